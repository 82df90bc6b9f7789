package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"

	"github.com/Comcast/automata/auth"
	"github.com/Comcast/automata/blueprint"
	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/interpreters"
	"github.com/Comcast/automata/schema"
	"github.com/Comcast/automata/tools"
)

func blueprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blueprint",
		Short: "Work with blueprint files (YAML or JSON)",
	}
	cmd.AddCommand(blueprintIDCmd())
	cmd.AddCommand(blueprintJSONCmd())
	cmd.AddCommand(blueprintShowCmd())
	cmd.AddCommand(blueprintSignCmd())
	cmd.AddCommand(blueprintDocCmd())
	cmd.AddCommand(blueprintBuiltinsCmd())
	cmd.AddCommand(blueprintTestCmd())
	return cmd
}

// readBlueprint reads a file or, given "-", stdin.
func readBlueprint(filename string) (*blueprint.Content, error) {
	var (
		bs  []byte
		err error
	)
	if filename == "-" {
		bs, err = io.ReadAll(os.Stdin)
	} else {
		bs, err = os.ReadFile(filename)
	}
	if err != nil {
		return nil, err
	}
	return blueprint.ParseYAML(bs)
}

func blueprintIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id FILE",
		Short: "Print the blueprint id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readBlueprint(args[0])
			if err != nil {
				return err
			}
			id, _, err := blueprint.ID(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func blueprintJSONCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "json FILE",
		Short: "Print the canonical JSON that the id hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readBlueprint(args[0])
			if err != nil {
				return err
			}
			_, canonical, err := blueprint.ID(c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", canonical)
			return nil
		},
	}
}

func blueprintShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show FILE",
		Short: "Print the blueprint's id and canonical content as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readBlueprint(args[0])
			if err != nil {
				return err
			}
			id, canonical, err := blueprint.ID(c)
			if err != nil {
				return err
			}
			var content map[string]interface{}
			if err := json.Unmarshal(canonical, &content); err != nil {
				return err
			}
			bs, err := yaml.Marshal(map[string]interface{}{
				"blueprintId": id,
				"content":     content,
			})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(bs)
			return err
		},
	}
}

func blueprintSignCmd() *cobra.Command {
	var keyFile, account string
	cmd := &cobra.Command{
		Use:   "sign FILE",
		Short: "Sign a blueprint and print a request body for POST /blueprints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readBlueprint(args[0])
			if err != nil {
				return err
			}
			bs, err := os.ReadFile(keyFile)
			if err != nil {
				return err
			}
			priv, err := blueprint.DecodePrivateKey(string(bs))
			if err != nil {
				return fmt.Errorf("key %s: %w", keyFile, err)
			}
			sig, err := blueprint.Sign(priv, c)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"content":          c,
				"signature":        sig,
				"creatorAccountId": account,
			})
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "", "private key file from keygen")
	cmd.Flags().StringVar(&account, "account", "", "creator account id")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func blueprintDocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doc FILE",
		Short: "Render the blueprint's documentation as HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readBlueprint(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(blueprint.RenderHTML(c))
			return err
		},
	}
}

func blueprintBuiltinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "builtins",
		Short: "List the builtin blueprints and their ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := blueprint.StandardBuiltins()
			if err != nil {
				return err
			}
			for _, name := range b.Names() {
				id, _ := b.ID(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, id)
			}
			return nil
		},
	}
}

func blueprintTestCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "test FILE SESSION",
		Short: "Run a session of events against a blueprint",
		Long: `test runs each step of the session (YAML or JSON) through the blueprint's
transition and checks the resulting state or error code.  The
transitions are printed as JSON, a Mermaid state diagram, or a
Graphviz dot file.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readBlueprint(args[0])
			if err != nil {
				return err
			}
			bs, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			session, err := tools.ParseSession(bs)
			if err != nil {
				return fmt.Errorf("session %s: %w", args[1], err)
			}

			e := core.NewEngine(interpreters.Standard(), schema.NewValidator())
			ts, failure := session.Run(cmd.Context(), e, c.Descriptor())

			out := cmd.OutOrStdout()
			switch format {
			case "mermaid":
				err = tools.Mermaid(out, ts, nil)
			case "dot":
				err = tools.Dot(out, ts)
			case "json":
				err = printJSON(cmd, ts)
			default:
				err = fmt.Errorf("unknown format %q", format)
			}
			if err != nil {
				return err
			}
			return failure
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json, mermaid, or dot")
	return cmd
}

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Make an Ed25519 key pair for signing blueprints",
		Long: `keygen writes the private key (a base64 seed) to FILE and the public key,
in OpenSSH authorized_keys format, to FILE.pub.  Without --out, both
are printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := blueprint.GenerateKey()
			if err != nil {
				return err
			}
			public, err := blueprint.MarshalPublicKey(pub)
			if err != nil {
				return err
			}
			private := blueprint.EncodePrivateKey(priv)

			if out == "" {
				return printJSON(cmd, map[string]string{
					"publicKey":  public,
					"privateKey": private,
				})
			}
			if err := os.WriteFile(out, []byte(private+"\n"), 0600); err != nil {
				return err
			}
			return os.WriteFile(out+".pub", []byte(public+"\n"), 0644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "private key file")
	return cmd
}

func tokenCmd(v *viper.Viper) *cobra.Command {
	var (
		tenant, subject string
		scopes          []string
		ttl             time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an HS256 token with the configured auth.jwtSecret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwtSecret is not configured")
			}
			tok, err := auth.IssueHS256([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, &auth.Identity{
				TenantID:  tenant,
				SubjectID: subject,
				Scopes:    scopes,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&subject, "subject", "", "subject id")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, `scopes like "automata:write:realm1"`)
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func printJSON(cmd *cobra.Command, x interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(x)
}
