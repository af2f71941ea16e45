package web

import "github.com/gofiber/fiber/v3"

// Register mounts the internal API under /api, the public execution API
// under /v1 and webhooks under /hooks.
func Register(app *fiber.App, handlers *APIHandlers, tokens TokenValidator) {
	app.Get("/health", handlers.HealthCheck)

	api := app.Group("/api", Authenticate(tokens))
	api.Get("/nodes/kinds", handlers.GetNodeKinds)

	w := api.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/publish", handlers.PublishWorkflow)
	w.Post("/:id/pause", handlers.PauseWorkflow)
	w.Post("/:id/archive", handlers.ArchiveWorkflow)
	w.Post("/:id/token", handlers.RotateToken)
	w.Delete("/:id/token", handlers.RevokeToken)
	w.Post("/:id/trigger", handlers.TriggerWorkflow)

	w.Post("/:id/nodes", handlers.CreateWorkflowNode)
	w.Get("/:id/nodes/:nodeId", handlers.GetWorkflowNode)
	w.Patch("/:id/nodes/:nodeId", handlers.UpdateWorkflowNode)
	w.Delete("/:id/nodes/:nodeId", handlers.DeleteWorkflowNode)

	api.Post("/executions/:id/cancel", handlers.CancelExecution)
	api.Get("/queue/status", handlers.GetQueueStatus)

	jobs := api.Group("/jobs", RequireAdmin())
	jobs.Get("/", handlers.GetJobs)
	jobs.Post("/:id/retry", handlers.RetryJob)
	jobs.Post("/:id/cancel", handlers.CancelJob)

	api.Post("/worker/process", RequireAdmin(), handlers.ProcessJobs)

	public := app.Group("/v1")
	public.Post("/workflows/:id/execute", handlers.ExecuteWorkflow)
	public.Get("/executions/:id", handlers.GetExecutionStatus)

	app.Post("/hooks/:id", handlers.ReceiveWebhook)
}
