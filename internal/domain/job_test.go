package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEmailJobUnmarshal(t *testing.T) {
	t.Run("RetryEmail变体", func(t *testing.T) {
		var job SendEmailJob
		err := json.Unmarshal([]byte(`{"RetryEmail":[42,7]}`), &job)

		require.NoError(t, err)
		require.NotNil(t, job.Retry)
		assert.Nil(t, job.New)
		assert.Equal(t, int32(42), job.Retry.EmailID)
		assert.Equal(t, int32(7), job.Retry.HubID)
	})

	t.Run("NewEmail变体忽略用户元素", func(t *testing.T) {
		raw := `{"NewEmail":[{"id":3,"email":"ops@x"},{` +
			`"hub_id":1,"subject":"S","message":"M",` +
			`"recipients":[{"address":"a@x","name":"Ada","fields":{"k":"v"}}]}]}`
		var job SendEmailJob
		err := json.Unmarshal([]byte(raw), &job)

		require.NoError(t, err)
		require.NotNil(t, job.New)
		assert.Nil(t, job.Retry)
		assert.Equal(t, int32(1), job.New.Email.HubID)
		require.Len(t, job.New.Email.Recipients, 1)
		assert.Equal(t, "a@x", job.New.Email.Recipients[0].Address)
		assert.Equal(t, FieldMap{"k": "v"}, job.New.Email.Recipients[0].Fields)
	})

	t.Run("未知变体失败", func(t *testing.T) {
		var job SendEmailJob
		err := json.Unmarshal([]byte(`{"DeleteEmail":[1,2]}`), &job)
		assert.Error(t, err)
	})

	t.Run("非法载荷失败", func(t *testing.T) {
		var job SendEmailJob
		err := json.Unmarshal([]byte(`{"RetryEmail":["a","b"]}`), &job)
		assert.Error(t, err)
	})
}

func TestValidateReply(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
		wantErr  error
	}{
		{name: "正常内容", input: "  Thanks!  ", expected: "Thanks!"},
		{name: "空内容", input: "   \n\t ", wantErr: ErrReplyEmpty},
		{name: "超长内容", input: strings.Repeat("п", MaxReplyLength+1), wantErr: ErrReplyTooLong},
		{name: "边界长度", input: strings.Repeat("п", MaxReplyLength), expected: strings.Repeat("п", MaxReplyLength)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateReply(tc.input)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}
