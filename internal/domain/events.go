package domain

// ZMQReplyMessage 收到关联回复后发布到总线的事件。
// Message 为提取出的回复正文，可能为空字符串。
type ZMQReplyMessage struct {
	HubID   int32   `json:"hub_id"`
	Email   string  `json:"email"`
	Message string  `json:"message"`
	Subject *string `json:"subject"`
}

// ZMQUnsubscribeMessage 识别到退订或退信后发布到总线的事件。
type ZMQUnsubscribeMessage struct {
	HubID  int32   `json:"hub_id"`
	Email  string  `json:"email"`
	Reason *string `json:"reason"`
}
