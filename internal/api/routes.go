package api

const (
	HealthCheckRoute = "/healthz"
	AboutRoute       = "/about"
	MetricsRoute     = "/metrics"

	AccessTokenRoute        = "/v1/access-token"
	SessionTokenRoute       = "/v1/session-token"
	RenewSessionTokenRoute  = "/v1/session-token/renew"
	CancelSessionTokenRoute = "/v1/session-token/cancel"

	AdminParent     = "/v1/admin/"
	ListAuditsRoute = AdminParent + "audit"
	ExplainRoute    = AdminParent + "explain"

	TaskParent       = AdminParent + "tasks"
	ListTasksRoute   = TaskParent
	TriggerTaskRoute = TaskParent + "/{name}/trigger"
	LogsForTaskRoute = TaskParent + "/{name}/logs"
)
