package orders

const (
	TopicOrderCreated = "coffee.order.created"
	TopicBidPlaced    = "coffee.bid.placed"
	TopicBidUpdated   = "coffee.bid.updated"
	TopicBidCancelled = "coffee.bid.cancelled"
	TopicOrderSettled = "coffee.order.settled"

	TopicProposalPassed  = "governance.proposal.passed"
	TopicOrderSettlement = "governance.order.settlement"
)

// Partition key = order_id so every event of one order stays ordered.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

func topicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventBidPlaced:
		return TopicBidPlaced
	case EventBidUpdated:
		return TopicBidUpdated
	case EventBidCancelled:
		return TopicBidCancelled
	case EventOrderSettled:
		return TopicOrderSettled
	}
	return ""
}
