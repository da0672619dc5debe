package events

// Topic enumerates fan-out topics inside the trading core.
type Topic string

const (
	TopicQuote         Topic = "quote"
	TopicSignal        Topic = "signal"
	TopicSubmission    Topic = "order.submission"
	TopicOrderAccepted Topic = "order.accepted"
	TopicOrderUpdate   Topic = "order.update"
	TopicDeal          Topic = "order.deal"
	TopicAnomaly       Topic = "order.anomaly"
	TopicDiscrepancy   Topic = "order.discrepancy"
	TopicReport        Topic = "session.report"
)

// AllTopics lists every topic, in stream order.
var AllTopics = []Topic{
	TopicQuote, TopicSignal, TopicSubmission, TopicOrderAccepted,
	TopicOrderUpdate, TopicDeal, TopicAnomaly, TopicDiscrepancy, TopicReport,
}
