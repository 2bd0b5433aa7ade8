package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"helferbot/internal/config"
)

func TestBulletList(t *testing.T) {
	assert.Equal(t, "- (keine)", bulletList(nil))
	assert.Equal(t, "- a", bulletList([]string{"a"}))
	assert.Equal(t, "- a\n- b", bulletList([]string{"a", "b"}))
}

// With notifications disabled the send helpers must be silent no-ops,
// not SMTP connection attempts.
func TestDisabledMailerDoesNotSend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Notify.Enabled = false

	mailer := NewMailer(cfg)
	assert.False(t, mailer.Enabled())

	mailer.SendSuccess([]string{"23.08.2025_15:00_58452"}, 2*time.Second)
	mailer.SendError(errors.New("boom"), []string{"23.08.2025_15:00_58452"})
}
