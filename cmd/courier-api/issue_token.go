package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/courier/internal/auth"
	"github.com/MarcoPoloResearchLab/courier/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errMissingUserFlag = errors.New("--user-id is required")

type issuedToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func newIssueTokenCommand() *cobra.Command {
	var subject auth.TokenSubject
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(subject.UserID) == "" {
				return errMissingUserFlag
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.TokenIssuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			token, expiresIn, err := issuer.IssueAccessToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(issuedToken{AccessToken: token, ExpiresIn: expiresIn, TokenType: "Bearer"})
		},
	}
	cmd.Flags().StringVar(&subject.UserID, "user-id", "", "User id placed in the token")
	cmd.Flags().StringVar(&subject.TenantID, "tenant-id", "", "Tenant id placed in the token")
	cmd.Flags().StringVar(&subject.Email, "email", "", "Email placed in the token")
	cmd.Flags().StringVar(&subject.Role, "role", "", "Role placed in the token")
	return cmd
}
