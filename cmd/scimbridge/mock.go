package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	scimapi "github.com/dhawalhost/scimbridge/internal/scim"
)

type mockFlags struct {
	addr      string
	token     string
	zeroBased bool
	seed      bool
}

func newMockBackendCmd(a *app) *cobra.Command {
	var f mockFlags
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve an in-memory SCIM service provider for local trials.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.mockBackend(cmd.Context(), f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.addr, "addr", ":9090", "listen address")
	flags.StringVar(&f.token, "token", "", "bearer token to require; empty disables the check")
	flags.BoolVar(&f.zeroBased, "zero-based", false, "treat startIndex 0 as the first resource")
	flags.BoolVar(&f.seed, "seed", false, "preload sample users and groups")
	return cmd
}

func (a *app) mockBackend(ctx context.Context, f mockFlags) error {
	if !a.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	store := scimapi.NewStore()
	if f.seed {
		if err := seed(store); err != nil {
			return err
		}
	}
	backend := scimapi.NewServer(store, scimapi.ServerOptions{
		Token:               f.token,
		ZeroBasedStartIndex: f.zeroBased,
	}, a.logger)

	srv := &http.Server{
		Addr:              f.addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Mock SCIM backend starting", zap.String("addr", f.addr), zap.String("base", "/scim/v2"))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func seed(store *scimapi.Store) error {
	active := true
	var ids []string
	for i, name := range []string{"ada", "grace", "linus"} {
		u, err := store.CreateUser(scimapi.User{
			Schemas:  []string{scimapi.UserSchema},
			UserName: name,
			Active:   &active,
		})
		if err != nil {
			return fmt.Errorf("seed user %d: %w", i, err)
		}
		ids = append(ids, u.ID)
	}
	groups := map[string][]string{
		"engineering": ids,
		"admins":      ids[:1],
	}
	for name, members := range groups {
		g := scimapi.Group{Schemas: []string{scimapi.GroupSchema}, DisplayName: name}
		for _, id := range members {
			g.Members = append(g.Members, scimapi.Member{Value: id, Type: "User"})
		}
		if _, err := store.CreateGroup(g); err != nil {
			return fmt.Errorf("seed group %s: %w", name, err)
		}
	}
	return nil
}
