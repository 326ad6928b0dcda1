package main

import (
	"fmt"

	"forumsearch/pkg/auth"

	"github.com/spf13/cobra"
)

var tokenRoles []string

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a signed access token",
	Long: `Issue an HS256 token signed with JWT_SECRET. Use --role admin to
reach the admin endpoints.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "Role to grant (repeatable)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}

	validator, err := auth.NewJWTValidator(auth.JWTConfig{
		SecretKey: cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		TTL:       cfg.JWTTTL,
	})
	if err != nil {
		return err
	}

	token, err := validator.GenerateToken(args[0], "", tokenRoles)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{"token": token})
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
