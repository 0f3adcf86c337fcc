package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/integrationd/internal/registration"
	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/logger"
)

// registrationsFile is the layout accepted by "registrations import"
type registrationsFile struct {
	Registrations []config.ConnectorConfig `yaml:"registrations"`
}

func registrationsCommand() *cobra.Command {
	var configFile, group string

	cmd := &cobra.Command{
		Use:   "registrations",
		Short: "Manage the connector registrations of integration groups",
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the daemon configuration file (required)")
	cmd.PersistentFlags().StringVarP(&group, "group", "g", "", "Integration group name (required)")
	_ = cmd.MarkPersistentFlagRequired("config")
	_ = cmd.MarkPersistentFlagRequired("group")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the registrations of a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(configFile, func(ctx context.Context, store registration.Store) error {
				for start := 0; ; start += registration.MaxPageSize {
					page, err := store.ListRegistrations(ctx, group, start, registration.MaxPageSize)
					if err != nil {
						return err
					}
					for _, reg := range page {
						fmt.Printf("%-36s %-32s %s\n", reg.ConnectorID, reg.DisplayName(), reg.Connection.ConnectorType)
					}
					if len(page) < registration.MaxPageSize {
						return nil
					}
				}
			})
		},
	})

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Add or replace registrations from a YAML file",
		Long: `Add or replace registrations from a YAML file of the form

registrations:
  - connector_id: orders
    connection:
      connector_type: sql-poller
      ...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rf registrationsFile
			if err := config.Load(file, &rf); err != nil {
				return err
			}
			for i := range rf.Registrations {
				if err := rf.Registrations[i].Validate(); err != nil {
					return fmt.Errorf("registration %d: %w", i, err)
				}
			}
			return withStore(configFile, func(ctx context.Context, store registration.Store) error {
				for _, reg := range rf.Registrations {
					if err := store.PutRegistration(ctx, group, reg); err != nil {
						return fmt.Errorf("failed to store %s: %w", reg.ConnectorID, err)
					}
				}
				fmt.Printf("imported %d registrations into group %s\n", len(rf.Registrations), group)
				return nil
			})
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "", "YAML file of registrations (required)")
	_ = importCmd.MarkFlagRequired("file")
	cmd.AddCommand(importCmd)

	return cmd
}

// withStore opens the registration store named by the daemon configuration
func withStore(configFile string, fn func(ctx context.Context, store registration.Store) error) error {
	cfg, err := config.LoadDaemonConfig(configFile)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := registration.Open(ctx, cfg.RegistrationStore, logger.Get())
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("%s configures no registration store", configFile)
	}
	defer store.Close()
	return fn(ctx, store)
}
