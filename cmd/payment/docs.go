package main

// @title Payment Service API
// @version 1.0
// @description Payment gateway reconciliation: checkout creation, gateway webhooks, status polling and subscription renewals

// @contact.name API Support
// @contact.email support@example.com

// @license.name MIT

// @host localhost:8083
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @tag.name Payments
// @tag.description Payment creation and admin endpoints

// @tag.name Webhooks
// @tag.description Gateway callbacks

// @tag.name Status
// @tag.description Public payment status

// @tag.name Internal
// @tag.description Scheduler triggers

// @tag.name Health
// @tag.description Health check endpoints
