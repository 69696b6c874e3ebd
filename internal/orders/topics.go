package orders

const (
	TopicNotifications = "order.notifications"

	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)
