package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrDeliverer 向每个 shoutrrr URL（smtp://、slack://、pushover:// 等）发送短文本，
// 所有 URL 共用一个 sender。
type ShoutrrrDeliverer struct {
	sender *router.ServiceRouter
}

// NewShoutrrrDeliverer 构建 sender 时校验 urls
func NewShoutrrrDeliverer(urls []string, timeout time.Duration) (*ShoutrrrDeliverer, error) {
	if len(urls) == 0 {
		return nil, errors.New("shoutrrr: at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("shoutrrr: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrDeliverer{sender: sender}, nil
}

func (s *ShoutrrrDeliverer) Name() string { return "shoutrrr" }

func (s *ShoutrrrDeliverer) Deliver(_ context.Context, e Event) error {
	params := types.Params{}
	params.SetTitle(e.Title())
	for _, err := range s.sender.Send(e.Message(), &params) {
		if err != nil {
			return err
		}
	}
	return nil
}
