// Package service contains the account service that keeps sealed app-state in a repository.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/appstate"
	pkgcrypto "github.com/and161185/fbrt/internal/crypto"
	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/limiter"
	"github.com/and161185/fbrt/internal/model"
	"github.com/and161185/fbrt/internal/repository"
)

// AccountService defines operations over stored logins.
type AccountService interface {
	// Import seals an exported app-state under passphrase and stores it as name.
	Import(ctx context.Context, name string, appState, passphrase []byte, overwrite bool) (*model.Account, error)
	// Open unseals the app-state of name and returns its cookies.
	Open(ctx context.Context, name string, passphrase []byte) (*model.Account, []*http.Cookie, error)
	// Refresh reseals the cookies currently held by jar, keeping cookie rotations made by the server.
	Refresh(ctx context.Context, name string, passphrase []byte, jar http.CookieJar) error
	// SaveCursor records the last sequence id seen for name.
	SaveCursor(ctx context.Context, name string, seq int64) error
	// ChangePassphrase rewraps the data key of name.
	ChangePassphrase(ctx context.Context, name string, oldPass, newPass []byte) error
	// List returns stored accounts without key material.
	List(ctx context.Context) ([]model.Account, error)
	// Delete removes name.
	Delete(ctx context.Context, name string) error
}

type AccountServiceImpl struct {
	repo repository.AccountRepository
	lim  limiter.Limiter
	log  *zap.Logger
}

var errEmptyInput = errors.New("empty account name/passphrase")

// NewAccountService constructs AccountService. A nil lim disables attempt limiting.
func NewAccountService(repo repository.AccountRepository, lim limiter.Limiter, log *zap.Logger) *AccountServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountServiceImpl{repo: repo, lim: lim, log: log}
}

// Import validates the app-state, seals it and creates or replaces the stored account.
func (s *AccountServiceImpl) Import(ctx context.Context, name string, appState, passphrase []byte, overwrite bool) (*model.Account, error) {
	if name == "" || len(passphrase) == 0 {
		return nil, errEmptyInput
	}
	cookies, err := appstate.Parse(appState)
	if err != nil {
		return nil, err
	}
	userID, err := appstate.UserID(cookies)
	if err != nil {
		return nil, err
	}
	a, err := seal(name, userID, appState, passphrase)
	if err != nil {
		return nil, err
	}

	err = s.repo.Create(ctx, a)
	if errors.Is(err, errs.ErrAlreadyExists) && overwrite {
		err = s.repo.Replace(ctx, a)
	}
	if err != nil {
		return nil, fmt.Errorf("import %q: %w", name, err)
	}
	s.log.Info("account imported", zap.String("account", name), zap.String("user_id", userID), zap.Int("cookies", len(cookies)))
	return a, nil
}

// Open loads and unseals name.
func (s *AccountServiceImpl) Open(ctx context.Context, name string, passphrase []byte) (*model.Account, []*http.Cookie, error) {
	a, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("open %q: %w", name, err)
	}
	var plain []byte
	err = s.guard(ctx, name, func() (err error) {
		plain, err = pkgcrypto.Open(passphrase, a.Name, sealedOf(a))
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open %q: %w", name, err)
	}
	cookies, err := appstate.Parse(plain)
	if err != nil {
		return nil, nil, err
	}
	return a, cookies, nil
}

// Refresh exports jar and replaces the stored app-state. The passphrase must open the current one.
func (s *AccountServiceImpl) Refresh(ctx context.Context, name string, passphrase []byte, jar http.CookieJar) error {
	if _, _, err := s.Open(ctx, name, passphrase); err != nil {
		return err
	}
	raw, err := appstate.Export(jar)
	if err != nil {
		return err
	}
	cookies, err := appstate.Parse(raw)
	if err != nil {
		return err
	}
	userID, err := appstate.UserID(cookies)
	if err != nil {
		return err
	}
	a, err := seal(name, userID, raw, passphrase)
	if err != nil {
		return err
	}
	return s.repo.Replace(ctx, a)
}

// SaveCursor stores seq unless it is unknown.
func (s *AccountServiceImpl) SaveCursor(ctx context.Context, name string, seq int64) error {
	if seq <= 0 {
		return nil
	}
	return s.repo.SaveCursor(ctx, name, seq)
}

// ChangePassphrase rewraps the data key; the sealed blob and cursor are kept.
func (s *AccountServiceImpl) ChangePassphrase(ctx context.Context, name string, oldPass, newPass []byte) error {
	if len(newPass) == 0 {
		return errEmptyInput
	}
	a, err := s.repo.Get(ctx, name)
	if err != nil {
		return err
	}
	var re *pkgcrypto.Sealed
	err = s.guard(ctx, name, func() (err error) {
		re, err = pkgcrypto.Rewrap(oldPass, newPass, sealedOf(a))
		return err
	})
	if err != nil {
		return err
	}
	a.KDFSalt, a.WrappedKey = re.Salt, re.WrappedKey
	if err := s.repo.Replace(ctx, a); err != nil {
		return err
	}
	return s.repo.SaveCursor(ctx, name, a.LastSeqID)
}

// List delegates to the repository.
func (s *AccountServiceImpl) List(ctx context.Context) ([]model.Account, error) {
	return s.repo.List(ctx)
}

// Delete delegates to the repository.
func (s *AccountServiceImpl) Delete(ctx context.Context, name string) error {
	return s.repo.Delete(ctx, name)
}

// guard runs unlock under the attempt limiter: locked accounts are refused and bad
// passphrases are counted.
func (s *AccountServiceImpl) guard(ctx context.Context, name string, unlock func() error) error {
	if s.lim == nil {
		return unlock()
	}
	ok, wait, err := s.lim.Allow(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("retry in %s: %w", wait.Round(time.Second), errs.ErrTooManyAttempts)
	}

	err = unlock()
	switch {
	case errors.Is(err, errs.ErrBadPassphrase):
		if blocked, d, lerr := s.lim.Failure(ctx, name); lerr != nil {
			s.log.Warn("limiter failure not recorded", zap.String("account", name), zap.Error(lerr))
		} else if blocked {
			s.log.Warn("account locked", zap.String("account", name), zap.Duration("for", d))
		}
	case err == nil:
		if lerr := s.lim.Success(ctx, name); lerr != nil {
			s.log.Warn("limiter reset failed", zap.String("account", name), zap.Error(lerr))
		}
	}
	return err
}

func seal(name, userID string, appState, passphrase []byte) (*model.Account, error) {
	sealed, err := pkgcrypto.Seal(passphrase, name, appState)
	if err != nil {
		return nil, err
	}
	return &model.Account{
		Name:       name,
		UserID:     userID,
		KDFSalt:    sealed.Salt,
		WrappedKey: sealed.WrappedKey,
		Sealed:     sealed.Blob,
	}, nil
}

func sealedOf(a *model.Account) *pkgcrypto.Sealed {
	return &pkgcrypto.Sealed{Salt: a.KDFSalt, WrappedKey: a.WrappedKey, Blob: a.Sealed}
}
