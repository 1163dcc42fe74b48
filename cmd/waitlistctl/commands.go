package main

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"waitlist/api/internal/auth"
	"waitlist/api/internal/globe"
	"waitlist/api/internal/registry"
	"waitlist/api/internal/store"
	"waitlist/api/internal/wallet"
)

func newListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every claim, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := reg.GetAllEntries(cmd.Context())
			if err != nil {
				return err
			}
			for i := range entries {
				entries[i] = entries[i].Public()
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
}

func newSizeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Print the number of claims",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			n, err := reg.Size(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newGetCmd(e *env) *cobra.Command {
	var spot int
	var walletAddress string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Look up a claim by --spot or --wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (spot == 0) == (walletAddress == "") {
				return errors.New("pass exactly one of --spot or --wallet")
			}
			reg, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			var entry *store.Entry
			if spot != 0 {
				entry, err = reg.GetEntryBySlot(cmd.Context(), spot)
			} else {
				entry, err = reg.GetEntryByWallet(cmd.Context(), strings.TrimSpace(walletAddress))
			}
			if err != nil {
				return err
			}
			if entry == nil {
				return errors.New("no claim found")
			}
			return printJSON(cmd.OutOrStdout(), entry.Public())
		},
	}
	cmd.Flags().IntVar(&spot, "spot", 0, "slot id")
	cmd.Flags().StringVar(&walletAddress, "wallet", "", "wallet address")
	return cmd
}

// newAddCmd claims through the registry, so an existing wallet is moved to
// the new slot instead of being rejected.
func newAddCmd(e *env) *cobra.Command {
	var spot int
	var walletAddress, name, seed, style string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Claim a slot for a wallet, moving it if already registered",
		RunE: func(cmd *cobra.Command, _ []string) error {
			checked := wallet.Validate(walletAddress)
			if !checked.IsValid {
				return errors.New(checked.Error)
			}
			if strings.TrimSpace(name) == "" {
				return errors.New("--name is required")
			}
			reg, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			if spot < 1 || spot > e.cfg.MaxSpots {
				return fmt.Errorf("--spot must be between 1 and %d", e.cfg.MaxSpots)
			}
			if seed == "" {
				seed = checked.NormalizedAddress
			}
			entry, err := reg.AddEntry(cmd.Context(), registry.Candidate{
				Name:          strings.TrimSpace(name),
				WalletAddress: checked.NormalizedAddress,
				Avatar:        store.GeneratedAvatar{Style: style, Seed: seed},
				ProfileID:     spot,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry.Public())
		},
	}
	cmd.Flags().IntVar(&spot, "spot", 0, "slot id")
	cmd.Flags().StringVar(&walletAddress, "wallet", "", "wallet address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&seed, "seed", "", "generated avatar seed, defaults to the wallet address")
	cmd.Flags().StringVar(&style, "style", store.DefaultAvatarStyle, "generated avatar style")
	return cmd
}

func newRemoveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <wallet>",
		Short: "Remove the claim bound to a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := reg.RemoveEntry(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if !removed {
				return errors.New("no claim for this wallet address")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed")
			return nil
		},
	}
}

func newClearCmd(e *env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every claim",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			reg, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := reg.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting every claim")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <address>",
		Short: "Check a wallet address and print its format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := wallet.Validate(args[0])
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.IsValid {
				return errors.New(result.Error)
			}
			return nil
		},
	}
}

func newHashAdminKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-admin-key [key]",
		Short: "Print the ADMIN_KEY_HASH for a key, read from stdin when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read admin key: %w", err)
				}
				key = line
			}
			hash, err := auth.HashAdminKey(strings.TrimSpace(key))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newSnapshotCmd(e *env) *cobra.Command {
	var out, device string
	var width, height int
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render the current globe to a PNG",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if width <= 0 || height <= 0 {
				return errors.New("--width and --height must be positive")
			}
			reg, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := reg.GetAllEntries(cmd.Context())
			if err != nil {
				return err
			}

			opts := globe.DefaultOptions(e.cfg.MaxSpots).WithTuning(e.cfg.Globe)
			textures := globe.NewTextures(e.cfg.AvatarBaseURL, &http.Client{}, e.cfg.AvatarTimeout())
			engine, err := globe.NewEngine(opts, textures, e.log, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			w, h := float64(width), float64(height)
			if globe.ParseDevice(device) == globe.Mobile && w >= globe.MobileBreakpoint {
				w = globe.MobileBreakpoint - 1
			}
			engine.Resize(w, h, 1)
			engine.Seed(entries)
			engine.WaitTextures()
			engine.Settle()

			img := globe.Render(engine.Snapshot(), width, height)
			if err := writePNG(out, img); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d claims)\n", out, len(entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "globe.png", "output file")
	cmd.Flags().StringVar(&device, "device", "desktop", "desktop or mobile tuning")
	cmd.Flags().IntVar(&width, "width", 1280, "image width")
	cmd.Flags().IntVar(&height, "height", 800, "image height")
	return cmd
}

func writePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}
