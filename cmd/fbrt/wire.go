package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fbrt/internal/appstate"
	"github.com/and161185/fbrt/internal/limiter"
	"github.com/and161185/fbrt/internal/migrate"
	"github.com/and161185/fbrt/internal/model"
	"github.com/and161185/fbrt/internal/repository/postgres"
	"github.com/and161185/fbrt/internal/service"
	"github.com/and161185/fbrt/internal/webapi"
)

// Bad-passphrase lockout of stored accounts.
const (
	unlockWindow   = 15 * time.Minute
	unlockMaxFails = 5
	unlockBlockFor = 15 * time.Minute
)

// login is a bootstrapped account ready to listen.
type login struct {
	sess *model.Session
	web  *webapi.Client
	jar  http.CookieJar

	// set when the app-state came from the account store
	store   service.AccountService
	account *model.Account
	close   func()
}

// openStore migrates the account store and returns its service.
func (a *app) openStore(ctx context.Context) (service.AccountService, func(), error) {
	if err := a.cfg.RequireStore(); err != nil {
		return nil, nil, err
	}
	if err := migrate.Up(ctx, a.cfg.DSN, a.log); err != nil {
		return nil, nil, err
	}
	db, err := postgres.New(ctx, a.cfg.DSN, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("account store: %w", err)
	}
	lim := limiter.NewPG(db.Pool, unlockWindow, unlockMaxFails, unlockBlockFor)
	return service.NewAccountService(postgres.NewAccountRepo(db), lim, a.log), db.Close, nil
}

// login loads the app-state from --appstate or the store and runs the web bootstrap.
func (a *app) login(ctx context.Context) (*login, error) {
	if err := a.cfg.RequireSource(); err != nil {
		return nil, err
	}
	lg := &login{close: func() {}}

	var cookies []*http.Cookie
	if a.cfg.AppState != "" {
		raw, err := readAll(a.cfg.AppState)
		if err != nil {
			return nil, err
		}
		if cookies, err = appstate.Parse(raw); err != nil {
			return nil, err
		}
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		lg.store, lg.close = store, closeStore
		lg.account, cookies, err = store.Open(ctx, a.cfg.Account, []byte(a.cfg.Passphrase))
		if err != nil {
			lg.close()
			return nil, err
		}
	}

	jar, err := appstate.NewJar(cookies)
	if err != nil {
		lg.close()
		return nil, err
	}
	proxy, err := a.proxy()
	if err != nil {
		lg.close()
		return nil, err
	}
	web, err := webapi.New(jar, webapi.Config{UserAgent: a.cfg.UserAgent, Proxy: proxy}, a.log)
	if err != nil {
		lg.close()
		return nil, err
	}
	sess, err := web.Bootstrap(ctx)
	if err != nil {
		lg.close()
		return nil, err
	}
	if lg.account != nil && lg.account.LastSeqID > 0 {
		sess.ResetCursor(lg.account.LastSeqID, "")
		a.log.Info("resuming from stored cursor", zap.Int64("seq_id", lg.account.LastSeqID))
	}
	lg.sess, lg.web, lg.jar = sess, web, jar
	return lg, nil
}

// persist stores the cursor and any cookies the server rotated. It is a no-op without a store.
func (a *app) persist(ctx context.Context, lg *login) {
	if lg.store == nil {
		return
	}
	if err := lg.store.Refresh(ctx, a.cfg.Account, []byte(a.cfg.Passphrase), lg.jar); err != nil {
		a.log.Warn("app-state refresh failed", zap.Error(err))
	}
	if err := lg.store.SaveCursor(ctx, a.cfg.Account, lg.sess.LastSeqID); err != nil {
		a.log.Warn("cursor save failed", zap.Error(err))
	}
}

func (a *app) proxy() (*url.URL, error) {
	if a.cfg.Proxy == "" {
		return nil, nil
	}
	u, err := url.Parse(a.cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	return u, nil
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}
