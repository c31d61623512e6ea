package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	authgin "github.com/PaulFidika/jwtverify/adapters/gin"
	authhttp "github.com/PaulFidika/jwtverify/adapters/http"
	"github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwkscache "github.com/PaulFidika/jwtverify/jwks"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run an HTTP token introspection service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, err := buildVerifier(cfg, log)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if err := v.Hydrate(ctx); err != nil {
			// Keys are fetched lazily on the first token instead.
			log.WithError(err).Warn("initial jwks fetch failed")
		}

		refresher, err := jwkscache.NewRefresher(v.KeySets(), cfg.RefreshSchedule, log, jwksURIs(v)...)
		if err != nil {
			return err
		}
		refresher.Start()
		defer refresher.Stop()

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           newRouter(v),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.WithField("addr", cfg.ListenAddr).Info("listening")
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}

// verifyRequest constraints only narrow what the configured issuer accepts.
// They are checked after the issuer's own claim rules pass.
type verifyRequest struct {
	Token    string   `json:"token" binding:"required"`
	Audience []string `json:"audience"`
	TokenUse string   `json:"token_use"`
	Groups   []string `json:"groups"`
	Scopes   []string `json:"scopes"`
}

func (req verifyRequest) narrowing() core.CustomCheck {
	if len(req.Audience) == 0 && req.TokenUse == "" && len(req.Groups) == 0 && len(req.Scopes) == 0 {
		return nil
	}
	extra := core.Options{
		Audience:       req.Audience,
		SkipAudience:   len(req.Audience) == 0,
		AudienceClaims: []string{"client_id", "aud"},
		TokenUse:       req.TokenUse,
		Groups:         req.Groups,
		Scopes:         req.Scopes,
		SkipExpiry:     true,
	}
	return func(in core.CheckInput) error {
		iss, _ := in.Payload.String("iss")
		return core.ValidateClaims(in.Payload, iss, extra, time.Now())
	}
}

func newRouter(v *core.Verifier) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/v1/keysets", gin.WrapH(authhttp.StatsHandler(v.KeySets())))
	for i, ic := range v.Issuers() {
		r.GET(fmt.Sprintf("/v1/keysets/%d/jwks.json", i), gin.WrapH(authhttp.KeySetHandler(v.KeySets(), ic.JWKSURI)))
	}

	r.POST("/v1/verify", func(c *gin.Context) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		var opts []core.Option
		if check := req.narrowing(); check != nil {
			opts = append(opts, core.WithCustomCheck(check))
		}
		payload, err := v.Verify(c.Request.Context(), req.Token, opts...)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"active": false, "error": jwtkit.KindOf(err).String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": true, "payload": payload})
	})

	r.GET("/v1/me", authgin.AuthRequired(v), func(c *gin.Context) {
		u, _ := authgin.CurrentUser(c)
		c.JSON(http.StatusOK, u)
	})
	return r
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
