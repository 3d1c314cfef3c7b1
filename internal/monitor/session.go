package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"hubmail/backend/internal/domain"
	"hubmail/backend/internal/monitoring"
	"hubmail/backend/internal/storage"
)

// session 单个 Hub 的一条 IMAP 会话。
//
// 生命周期：TLS 连接、登录、SELECT INBOX，然后交替执行
// 抓取新邮件与 IDLE 等待。任何错误都结束会话，由上层
// 按固定间隔重建。游标在每封邮件处理完成后立即持久化，
// 先副作用后推进，崩溃只会导致重抓而不会漏抓。
type session struct {
	hub         *domain.Hub
	store       storage.Store
	proc        *Processor
	metrics     *monitoring.Metrics
	log         *zap.Logger
	idleTimeout time.Duration
	cursor      int32
}

func newSession(hub *domain.Hub, store storage.Store, proc *Processor, metrics *monitoring.Metrics, log *zap.Logger, idleTimeout time.Duration) *session {
	return &session{
		hub:         hub,
		store:       store,
		proc:        proc,
		metrics:     metrics,
		log:         log,
		idleTimeout: idleTimeout,
		cursor:      hub.LastProcessedUID,
	}
}

func (s *session) run(ctx context.Context) error {
	// IDLE 期间邮箱有动静时缩短等待
	newMail := make(chan struct{}, 1)
	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case newMail <- struct{}{}:
					default:
					}
				}
			},
		},
	}

	addr := fmt.Sprintf("%s:%d", s.hub.IMAPServer, s.hub.IMAPPort)
	client, err := imapclient.DialTLS(addr, opts)
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Login(s.hub.IMAPLogin, s.hub.IMAPPassword).Wait(); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select INBOX: %w", err)
	}

	s.log.Info("imap session established",
		zap.String("server", addr),
		zap.Int32("cursor", s.cursor))

	for {
		if err := s.processNew(ctx, client); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := s.idle(ctx, client, newMail); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// processNew 抓取游标之后的全部新邮件并按 UID 升序处理。
//
// 每封邮件：FETCH（Peek，不置已读）、分类落库、推进游标。
// 仓储错误中止本轮并结束会话，游标停在最后一封成功处理的
// 邮件上。
func (s *session) processNew(ctx context.Context, client *imapclient.Client) error {
	var uidSet imap.UIDSet
	uidSet.AddRange(imap.UID(s.cursor)+1, 0)

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		UID: []imap.UIDSet{uidSet},
	}, nil).Wait()
	if err != nil {
		return fmt.Errorf("uid search: %w", err)
	}

	uids := searchData.AllUIDs()
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	for _, uid := range uids {
		if ctx.Err() != nil {
			return nil
		}
		// 部分服务器对 N:* 会把区间锚点也返回
		if uid <= imap.UID(s.cursor) {
			continue
		}
		if uint64(uid) > math.MaxInt32 {
			return fmt.Errorf("uid %d exceeds cursor range", uid)
		}

		raw, err := s.fetchMessage(client, uid)
		if err != nil {
			return err
		}
		if raw != nil {
			if err := s.proc.Process(s.hub, raw); err != nil {
				return err
			}
		} else {
			s.log.Warn("message body missing, skipping", zap.Uint32("uid", uint32(uid)))
		}
		s.metrics.MessagesProcessed.Inc()

		if err := s.store.SetLastProcessedUID(s.hub.ID, int32(uid)); err != nil {
			return fmt.Errorf("advance cursor to %d: %w", uid, err)
		}
		s.cursor = int32(uid)
	}

	return nil
}

// fetchMessage 抓取单封邮件的原始字节，BODY.PEEK 不触碰已读标记。
// 邮件在搜索与抓取之间被删除时返回 (nil, nil)。
func (s *session) fetchMessage(client *imapclient.Client, uid imap.UID) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, nil
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collect message %d: %w", uid, err)
	}
	return buf.FindBodySection(bodySection), nil
}

// idle 进入 IDLE 等待新邮件，idleTimeout 到期后重新发起以保活
func (s *session) idle(ctx context.Context, client *imapclient.Client, newMail <-chan struct{}) error {
	idleCmd, err := client.Idle()
	if err != nil {
		return fmt.Errorf("idle start: %w", err)
	}

	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-newMail:
	}

	if err := idleCmd.Close(); err != nil {
		return fmt.Errorf("idle stop: %w", err)
	}
	if err := idleCmd.Wait(); err != nil {
		return fmt.Errorf("idle: %w", err)
	}
	return nil
}
