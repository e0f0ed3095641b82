package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/paybridge/internal/domain"
)

type AgreementService struct {
	accounts AccountStore
	now      func() time.Time
}

func NewAgreementService(accounts AccountStore) *AgreementService {
	return &AgreementService{accounts: accounts, now: time.Now}
}

// Record stores that username accepted the purchase terms.
func (s *AgreementService) Record(ctx context.Context, username, ip, userAgent string) (*domain.Agreement, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: missing username", ErrBadRequest)
	}
	acc, err := s.accounts.FindAccount(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.accounts.InsertAgreement(ctx, acc.ID, ip, userAgent, s.now().UTC().Truncate(time.Second))
}
