package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/hysmio/deployments-dashboard/pkg/api/client"
	jwtpkg "github.com/hysmio/deployments-dashboard/pkg/jwt"
)

const requestTimeout = 15 * time.Second

func loginCmd(flags *globalFlags) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an access token for later commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := strings.TrimSpace(token)
			if secret == "" {
				fmt.Fprint(os.Stderr, "Access token: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				secret = strings.TrimSpace(string(raw))
			}
			if secret == "" {
				return errors.New("empty access token")
			}

			cfg, _ := loadConfig()
			if base := firstNonEmpty(flags.api); base != "" {
				cfg.APIBaseURL = base
			}
			client, err := apiclient.New(cfg.APIBaseURL)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if _, err := client.Environments(ctx, secret); err != nil {
				return fmt.Errorf("verify token: %w", err)
			}
			cfg.AccessToken = secret
			if err := saveConfig(cfg); err != nil {
				return err
			}
			success("login successful (%s)", cfg.APIBaseURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "with-token", "", "token to store (prompted when omitted)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret   string
		userID   string
		email    string
		name     string
		ttl      time.Duration
		verified bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token with the server's signing secret",
		RunE: func(_ *cobra.Command, _ []string) error {
			key := firstNonEmpty(secret, os.Getenv("JWT_SECRET"))
			if key == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			signed, err := jwtpkg.GenerateToken(jwtpkg.Identity{
				UserID:        firstNonEmpty(userID, email),
				Email:         email,
				EmailVerified: verified,
				Name:          name,
			}, key, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret")
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to the email)")
	cmd.Flags().StringVar(&email, "email", "", "email of the operator")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&verified, "verified", true, "mark the email as verified")
	return cmd
}

func servicesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "services [name]",
		Short: "List services or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := flags.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if len(args) == 1 {
				svc, err := client.GetService(ctx, token, args[0])
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(svc)
				}
				renderServiceDetail(svc)
				return nil
			}
			services, err := client.ListServices(ctx, token)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(services)
			}
			renderServices(services)
			return nil
		},
	}
}

func dashboardCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the production status of every service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := flags.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			rows, err := client.Dashboard(ctx, token)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(rows)
			}
			renderDashboard(rows)
			return nil
		},
	}
}

func deploymentsCmd(flags *globalFlags) *cobra.Command {
	var query apiclient.DeploymentQuery
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "List reconstructed deployments of a service or instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if query.Service == "" && query.InstanceID == "" {
				return errors.New("--service or --instance is required")
			}
			client, token, err := flags.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			page, err := client.ListDeployments(ctx, token, query)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(page)
			}
			renderDeployments(page)
			return nil
		},
	}
	cmd.Flags().StringVar(&query.Service, "service", "", "service name")
	cmd.Flags().StringVar(&query.InstanceID, "instance", "", "instance id")
	cmd.Flags().StringVar(&query.Environment, "env", "", "environment (with --service)")
	cmd.Flags().StringVar(&query.BuildURL, "build", "", "Buildkite build URL")
	cmd.Flags().IntVar(&query.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&query.Limit, "limit", 10, "page size")
	return cmd
}

func deploymentCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "deployment <id>",
		Short: "Show one deployment and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := flags.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			d, err := client.GetDeployment(ctx, token, args[0])
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(d)
			}
			renderDeployment(d)
			return nil
		},
	}
}

func eventsCmd(flags *globalFlags) *cobra.Command {
	var (
		instanceID string
		findStart  string
		page       apiclient.PageQuery
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List an instance's events, or find the start of an episode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := flags.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if findStart != "" {
				ev, err := client.FindStart(ctx, token, findStart)
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(ev)
				}
				renderEvents([]eventRow{rowOf(ev)}, 1, 1, 1)
				return nil
			}
			if instanceID == "" {
				return errors.New("--instance or --find-start is required")
			}
			out, err := client.ListEvents(ctx, token, instanceID, page)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(out)
			}
			rows := make([]eventRow, 0, len(out.Data))
			for _, ev := range out.Data {
				rows = append(rows, rowOf(ev))
			}
			renderEvents(rows, out.Page, out.TotalPages, out.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "instance id")
	cmd.Flags().StringVar(&findStart, "find-start", "", "completion event id whose deployment_started event to show")
	cmd.Flags().IntVar(&page.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&page.Limit, "limit", 10, "page size")
	return cmd
}

func statsCmd(flags *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats <service>",
		Short: "Show deployment statistics of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := flags.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			st, err := client.ServiceStats(ctx, token, args[0], days)
			if err != nil {
				return err
			}
			counts, err := client.DeploymentCounts(ctx, token, args[0], days)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(map[string]any{"stats": st, "deployments": counts})
			}
			renderStats(args[0], days, st, counts)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "window in days (server default when 0)")
	return cmd
}

func environmentsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "environments",
		Short: "List environment names in use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := flags.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			envs, err := client.Environments(ctx, token)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(envs)
			}
			for _, env := range envs {
				fmt.Fprintln(os.Stdout, env)
			}
			return nil
		},
	}
}

func cacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the server read cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Drop every cached listing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := flags.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := client.ResetCache(ctx, token); err != nil {
				return err
			}
			success("cache reset")
			return nil
		},
	})
	return cmd
}
