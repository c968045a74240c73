package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"bitespeed/internal/database"
	"bitespeed/internal/models"
	"bitespeed/internal/service"
	bserr "bitespeed/pkg/errors"
)

func newIdentifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Reconcile one email/phone pair against the configured database",
		Args:  cobra.NoArgs,
		RunE:  runIdentify,
	}
	cmd.Flags().String("email", "", "contact email")
	cmd.Flags().String("phone", "", "contact phone number")
	return cmd
}

func runIdentify(cmd *cobra.Command, _ []string) error {
	email, _ := cmd.Flags().GetString("email")
	phone, _ := cmd.Flags().GetString("phone")
	if email == "" && phone == "" {
		return bserr.New(bserr.CodeIdentifyRequestInvalid, "at least one of --email or --phone is required")
	}

	e, err := setup(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	req := models.IdentifyRequest{}
	if email != "" {
		req.Email = &email
	}
	if phone != "" {
		p := models.PhoneNumber(phone)
		req.PhoneNumber = &p
	}

	svc := service.NewReconciliationService(database.NewContactStore(e.db), e.logger, nil)
	resp, err := svc.Identify(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
