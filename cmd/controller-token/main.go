// Command controller-token prints an umpire token for a controller id,
// signed with the server's JWT_SECRET.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/live-score-backend/internal/config"
	"github.com/DoyleJ11/live-score-backend/internal/token"
)

var (
	controllerID string
	ttl          time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "controller-token",
	Short: "Issue an umpire token",
	Long: `Issue an account-level umpire token for a controller id.

The token is signed with JWT_SECRET and JWT_ISSUER from the same environment
and dotenv files the server reads.

Examples:
  controller-token --controller U1
  controller-token --controller U1 --ttl 2h`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&controllerID, "controller", "c", "", "controller id to issue the token for")
	rootCmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default CONTROLLER_TOKEN_TTL)")
	_ = rootCmd.MarkFlagRequired("controller")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = cfg.ControllerTokenTTL
	}
	tokens, err := token.New(token.Config{
		Secret:        []byte(cfg.JWTSecret),
		Issuer:        cfg.JWTIssuer,
		ControllerTTL: ttl,
	})
	if err != nil {
		return err
	}
	tok, err := tokens.IssueController(controllerID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
