package orders

const (
	TopicOrderCreated      = "product-order.created"
	TopicOrderUpdated      = "product-order.updated"
	TopicOrderDeleted      = "product-order.deleted"
	TopicStockInconsistent = "order.stock.inconsistent"
)

var topicByEvent = map[string]string{
	EventOrderCreated:      TopicOrderCreated,
	EventOrderUpdated:      TopicOrderUpdated,
	EventOrderDeleted:      TopicOrderDeleted,
	EventStockInconsistent: TopicStockInconsistent,
}

func TopicFor(eventType string) (string, bool) {
	t, ok := topicByEvent[eventType]
	return t, ok
}

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
