package notification

import (
	"context"
	"fmt"
	"log"

	accountdomain "levramail-backend/internal/account/domain"
	authrepo "levramail-backend/internal/auth/repository"
	maildomain "levramail-backend/internal/mail/domain"
	"levramail-backend/pkg/fcm"
)

const maxSubjectRunes = 100

// PushNotifier sends new important mail to the devices of the account owner.
type PushNotifier struct {
	sender fcm.Sender
	tokens authrepo.FCMTokenRepository
}

func NewPushNotifier(sender fcm.Sender, tokens authrepo.FCMTokenRepository) *PushNotifier {
	return &PushNotifier{sender: sender, tokens: tokens}
}

// NotifyNewMail is best-effort: failures are logged, rejected tokens are pruned.
func (n *PushNotifier) NotifyNewMail(ctx context.Context, account *accountdomain.Account, emails []maildomain.Email) {
	if n.sender == nil || len(emails) == 0 {
		return
	}
	rows, err := n.tokens.GetTokensByUserID(account.UserID)
	if err != nil {
		log.Printf("[FCM] Error getting tokens for user %s: %v", account.UserID, err)
		return
	}
	if len(rows) == 0 {
		log.Printf("[FCM] No tokens for user %s, skipping push", account.UserID)
		return
	}
	tokens := make([]string, len(rows))
	for i, r := range rows {
		tokens[i] = r.Token
	}

	failed, err := n.sender.SendToDevices(ctx, tokens, buildNotification(account, emails))
	if err != nil {
		log.Printf("[FCM] Error sending notifications: %v", err)
		return
	}
	if len(failed) > 0 {
		log.Printf("[FCM] Cleaning up %d failed tokens", len(failed))
		if err := n.tokens.DeleteTokens(failed); err != nil {
			log.Printf("[FCM] Failed to delete tokens: %v", err)
		}
	}
}

func buildNotification(account *accountdomain.Account, emails []maildomain.Email) fcm.Notification {
	latest := emails[0]
	for _, e := range emails[1:] {
		if e.SentAt.After(latest.SentAt) {
			latest = e
		}
	}

	title := "New important email"
	if len(emails) > 1 {
		title = fmt.Sprintf("%d new important emails", len(emails))
	}
	body := truncateSubject(latest.Subject)
	if body == "" {
		body = "(no subject)"
	}
	return fcm.Notification{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":         "new_mail",
			"account_id":   account.ID,
			"email":        account.EmailAddress,
			"messageId":    latest.ID,
			"click_action": "/inbox/" + latest.ID,
		},
	}
}

func truncateSubject(s string) string {
	r := []rune(s)
	if len(r) <= maxSubjectRunes {
		return s
	}
	return string(r[:maxSubjectRunes-3]) + "..."
}
