package domain

import (
	"encoding/json"
	"fmt"
)

// RetryEmailJob 重发既有邮件：只读取，不插入。
// 已发送成功的收件人在发送端被跳过，因此重试是幂等的。
type RetryEmailJob struct {
	EmailID int32
	HubID   int32
}

// NewEmailJob 创建并发送新邮件。
//
// 注意：该变体在本层不幂等，总线重复投递会产生重复的邮件行，
// 上游需要自行去重或改用 RetryEmail 做重试。
type NewEmailJob struct {
	Email NewEmail
}

// SendEmailJob 发送端从总线接收的投递任务，两个变体二选一。
//
// 线上格式（JSON，外部约定，勿改）：
//
//	{"RetryEmail": [<email_id>, <hub_id>]}
//	{"NewEmail":   [<user>, {...new_email...}]}
//
// NewEmail 的第一个元素是上游携带的用户信息，本核心接受但忽略。
type SendEmailJob struct {
	Retry *RetryEmailJob
	New   *NewEmailJob
}

// UnmarshalJSON 实现 json.Unmarshaler
func (j *SendEmailJob) UnmarshalJSON(data []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode job envelope: %w", err)
	}

	if raw, ok := envelope["RetryEmail"]; ok {
		var pair [2]int32
		if err := json.Unmarshal(raw, &pair); err != nil {
			return fmt.Errorf("decode RetryEmail payload: %w", err)
		}
		j.Retry = &RetryEmailJob{EmailID: pair[0], HubID: pair[1]}
		return nil
	}

	if raw, ok := envelope["NewEmail"]; ok {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return fmt.Errorf("decode NewEmail payload: %w", err)
		}
		var email NewEmail
		if err := json.Unmarshal(pair[1], &email); err != nil {
			return fmt.Errorf("decode NewEmail body: %w", err)
		}
		j.New = &NewEmailJob{Email: email}
		return nil
	}

	return fmt.Errorf("unknown job variant: %s", string(data))
}
