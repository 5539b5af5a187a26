package bus

// Topic names a logical message category. Window envelopes carry it in
// "topic"; worker messages carry it in "command".
type Topic string

const (
	TopicConnectHandshake            Topic = "CONNECT_HANDSHAKE"
	TopicNotificationPermissionState Topic = "NOTIFICATION_PERMISSION_STATE"
	TopicServiceWorkerState          Topic = "SERVICE_WORKER_STATE"
	TopicServiceWorkerRegistration   Topic = "SERVICE_WORKER_REGISTRATION"
	TopicServiceWorkerQuery          Topic = "SERVICE_WORKER_QUERY"
)

// Topics understood by the push worker. Callers of SERVICE_WORKER_QUERY are
// free to use others.
const (
	TopicSubscriptionState Topic = "subscription-state"
	TopicSubscribe         Topic = "subscribe"
	TopicUnsubscribe       Topic = "unsubscribe"
)

// WildcardOrigin targets any origin when posting to a remote context.
const WildcardOrigin = "*"

// Notification permission values reported by the host.
const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
	PermissionDefault = "default"
)
