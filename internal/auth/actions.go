package auth

// Action constants for endpoint authorization checks with Casbin.

const (
	// TaskCreate allows submitting new tasks
	TaskCreate = "task:create"

	// TaskRead allows reading a single task
	TaskRead = "task:read"

	// TaskList allows listing tasks
	TaskList = "task:list"

	// TaskUpdate allows editing a pending task's input data
	TaskUpdate = "task:update"

	// TaskApprove allows approving a task
	TaskApprove = "task:approve"

	// TaskCancel allows cancelling a task
	TaskCancel = "task:cancel"
)

const (
	// NotificationList allows listing notifications
	NotificationList = "notification:list"

	// NotificationAck allows acknowledging a notification
	NotificationAck = "notification:ack"
)
