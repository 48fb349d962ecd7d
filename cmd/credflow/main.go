// Copyright 2024 The Credflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the credflow command.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/credflow/credflow/credentials"
	"github.com/credflow/credflow/credentials/impersonate"
	"github.com/spf13/cobra"
)

var (
	scopes          []string
	audience        string
	credentialsFile string
	impersonateSA   string
	delegates       []string
	selfSignedJWT   bool
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:               "credflow",
	DisableAutoGenTag: true,
	Short:             "Resolve default credentials and mint access tokens",
	Long: `credflow resolves credentials the way the client libraries do: explicit
file, environment variable, well-known gcloud file, then the instance
metadata server. The token subcommand prints the resulting access token.`,
	SilenceUsage: true,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch an access token from the detected credentials",
	RunE:  tokenCmdFunc,
}

func init() {
	tokenCmd.Flags().StringSliceVar(&scopes, "scopes", nil, "OAuth2 scopes the token should have")
	tokenCmd.Flags().StringVar(&audience, "audience", "", "JWT audience, for scopeless 2-legged flows")
	tokenCmd.Flags().StringVar(&credentialsFile, "credentials-file", "", "Path to a credential file, bypassing detection")
	tokenCmd.Flags().StringVar(&impersonateSA, "impersonate", "", "Service account email to impersonate")
	tokenCmd.Flags().StringSliceVar(&delegates, "delegates", nil, "Delegate emails for the impersonation chain, in order")
	tokenCmd.Flags().BoolVar(&selfSignedJWT, "self-signed-jwt", false, "Sign a JWT locally instead of calling the token endpoint")
	tokenCmd.MarkFlagsMutuallyExclusive("scopes", "audience")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(tokenCmd)
}

func tokenCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	var logger *slog.Logger
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	detectScopes := scopes
	if impersonateSA != "" {
		// The detected credential only authorizes the first hop.
		detectScopes = []string{"https://www.googleapis.com/auth/cloud-platform"}
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:           detectScopes,
		Audience:         audience,
		CredentialsFile:  credentialsFile,
		UseSelfSignedJWT: selfSignedJWT,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	tp := creds.TokenProvider
	if impersonateSA != "" {
		tokenScopes := scopes
		if len(tokenScopes) == 0 {
			tokenScopes = []string{"https://www.googleapis.com/auth/cloud-platform"}
		}
		tp, err = impersonate.NewTokenProvider(&impersonate.Options{
			Base:            creds,
			TargetPrincipal: impersonateSA,
			Delegates:       delegates,
			Scopes:          tokenScopes,
			Logger:          logger,
		})
		if err != nil {
			return err
		}
	}

	tok, err := tp.Token(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok.Value)
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "type=%s expires=%s\n", tok.Type, tok.Expiry.Format(time.RFC3339))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
