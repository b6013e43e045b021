package cmd

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pliu/cipherchat/internal/keys"
)

var (
	keysUserID string

	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Inspect and rotate user key pairs",
	}

	keysRotateCmd = &cobra.Command{
		Use:   "rotate",
		Short: "Append a new key pair for a user and make it active",
		RunE:  runKeysRotate,
	}

	keysListCmd = &cobra.Command{
		Use:   "list",
		Short: "List a user's keys, oldest first",
		RunE:  runKeysList,
	}
)

func init() {
	keysCmd.PersistentFlags().StringVarP(&keysUserID, "user", "u", "", "user id")
	keysCmd.AddCommand(keysRotateCmd)
	keysCmd.AddCommand(keysListCmd)
}

func keyManager(cmd *cobra.Command) (*keys.Manager, func(), error) {
	if keysUserID == "" {
		return nil, nil, errors.New("--user is required")
	}
	cfg, log, st, err := setup(cmd)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		st.Close()
		log.Sync()
	}
	return keys.NewManager(st, cfg.Crypto.PrivateKeySecret, log), cleanup, nil
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	km, cleanup, err := keyManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	key, err := km.Rotate(cmd.Context(), keysUserID)
	if err != nil {
		return err
	}
	cmd.Println(color.GreenString("✓") + " rotated key for " + color.CyanString(keysUserID))
	cmd.Println("  Key ID: " + color.YellowString(key.ID))
	cmd.Printf("  Seq:    %d\n", key.Seq)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	km, cleanup, err := keyManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	active, err := km.ActiveKey(ctx, keysUserID)
	if err != nil {
		return err
	}
	list, err := km.List(ctx, keysUserID)
	if err != nil {
		return err
	}
	for _, k := range list {
		marker := " "
		if k.ID == active.ID {
			marker = color.GreenString("*")
		}
		cmd.Printf("%s %3d  %s  %s\n", marker, k.Seq, color.YellowString(k.ID), k.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
