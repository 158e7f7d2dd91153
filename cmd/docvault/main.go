package main

import (
	"context"
	"fmt"
	"mime"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docvault/internal/app"
	"docvault/internal/config"
	"docvault/internal/model"
	"docvault/internal/pipeline"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Process", "Retrieve").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// userContext builds the access context from the shared --user, --roles,
// --clearance, --ip, and --country flags.
func userContext(cmd *cobra.Command) (model.AccessContext, error) {
	userID, _ := cmd.Flags().GetString("user")
	roles, _ := cmd.Flags().GetStringSlice("roles")
	clearance, _ := cmd.Flags().GetString("clearance")
	ip, _ := cmd.Flags().GetString("ip")
	country, _ := cmd.Flags().GetString("country")

	c, err := model.ParseClassification(clearance)
	if err != nil {
		return model.AccessContext{}, fmt.Errorf("parsing clearance: %w", err)
	}

	actx := model.AccessContext{
		User:      model.User{ID: userID, Roles: roles, Clearance: c},
		Country:   country,
		Timestamp: time.Now().UTC(),
	}
	if ip != "" {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return model.AccessContext{}, fmt.Errorf("parsing ip: %w", err)
		}
		actx.IP = addr
	}
	return actx, nil
}

func userContextFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "Requesting user ID")
	cmd.Flags().StringSlice("roles", nil, "Requesting user's roles")
	cmd.Flags().String("clearance", "public", "Requesting user's clearance level")
	cmd.Flags().String("ip", "", "Source IP address")
	cmd.Flags().String("country", "", "Source country code")
}

// readPassphrase prompts for a passphrase without echoing.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

var rootCmd = &cobra.Command{
	Use:   "docvault",
	Short: "Secure document processing and storage",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Store:      %s\n", cfg.Store.Type)
		fmt.Printf("Blob Store: %s\n", cfg.BlobStore.Type)
		fmt.Printf("Scanner:    %s (%s)\n", cfg.Scanner.Type, cfg.Scanner.Binary)
		return nil
	},
}

// process command
var processCmd = &cobra.Command{
	Use:   "process PATH",
	Short: "Run a document through the processing pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		mediaType, _ := cmd.Flags().GetString("media-type")
		owner, _ := cmd.Flags().GetString("owner")
		classification, _ := cmd.Flags().GetString("classification")
		parent, _ := cmd.Flags().GetString("parent")
		sha, _ := cmd.Flags().GetString("sha256")
		documentID, _ := cmd.Flags().GetString("document-id")

		c, err := model.ParseClassification(classification)
		if err != nil {
			return fmt.Errorf("parsing classification: %w", err)
		}

		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		if title == "" {
			title = filepath.Base(absPath)
		}
		if mediaType == "" {
			mediaType = mime.TypeByExtension(filepath.Ext(absPath))
			if i := strings.IndexByte(mediaType, ';'); i >= 0 {
				mediaType = mediaType[:i]
			}
			if mediaType == "" {
				return fmt.Errorf("cannot infer media type for %s; pass --media-type", absPath)
			}
		}

		a, err := newApp(cmd.Context(), "Process")
		if err != nil {
			return err
		}
		defer a.Close()

		doc, job, err := a.Process(cmd.Context(), pipeline.Upload{
			Path:             absPath,
			DocumentID:       documentID,
			Title:            title,
			Description:      description,
			MediaType:        mediaType,
			OwnerID:          owner,
			Classification:   c,
			ParentDocumentID: parent,
			SHA256:           sha,
		})
		if err != nil {
			if job != nil {
				fmt.Printf("Processing failed at stage %s: %s\n", job.Stage, job.LastError)
			}
			return err
		}

		fmt.Printf("Document ID:    %s\n", doc.ID)
		fmt.Printf("Job ID:         %s\n", job.ID)
		fmt.Printf("Classification: %s\n", doc.Classification)
		fmt.Printf("Version:        %d\n", doc.VersionNumber)
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListDocuments")
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents stored.")
			return nil
		}

		for _, d := range docs {
			flag := " "
			if d.Quarantined {
				flag = "Q"
			}
			fmt.Printf("%s %s  v%d  %-12s  %s\n",
				flag, d.ID, d.VersionNumber, d.Classification, d.Title)
		}
		return nil
	},
}

// job command
var jobCmd = &cobra.Command{
	Use:   "job JOB_ID",
	Short: "View processing job status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GetJob")
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job:      %s\n", job.ID)
		fmt.Printf("Document: %s\n", job.DocumentID)
		fmt.Printf("Stage:    %s\n", job.Stage)
		fmt.Printf("Status:   %s\n", job.Status)
		fmt.Printf("Progress: %d%%\n", job.Progress)
		fmt.Printf("Retries:  %d/%d\n", job.RetryCount, job.MaxRetries)
		if job.LastError != "" {
			fmt.Printf("Error:    %s\n", job.LastError)
		}
		return nil
	},
}

// retrieve command
var retrieveCmd = &cobra.Command{
	Use:   "retrieve DOCUMENT_ID",
	Short: "Decrypt a document's content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		actx, err := userContext(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Retrieve")
		if err != nil {
			return err
		}
		defer a.Close()

		w := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := a.Retrieve(cmd.Context(), args[0], actx, w); err != nil {
			return err
		}
		if output != "" {
			fmt.Fprintf(os.Stderr, "Wrote %s\n", output)
		}
		return nil
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search indexed document text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Search")
		if err != nil {
			return err
		}
		defer a.Close()

		ids := a.Search(args[0])
		if len(ids) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

// access command
var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Check and manage document access",
}

var accessCheckCmd = &cobra.Command{
	Use:   "check DOCUMENT_ID",
	Short: "Evaluate an access decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actx, err := userContext(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "CheckAccess")
		if err != nil {
			return err
		}
		defer a.Close()

		decision, err := a.CheckAccess(cmd.Context(), args[0], actx)
		if err != nil {
			return err
		}

		if !decision.Allowed {
			fmt.Printf("Denied: %s\n", decision.Reason)
			return nil
		}

		perms := make([]string, 0, len(decision.Permissions))
		for _, p := range decision.Permissions {
			perms = append(perms, string(p))
		}
		fmt.Printf("Allowed: %s\n", strings.Join(perms, ", "))
		if decision.RequiresApproval {
			fmt.Printf("Requires approval by: %s\n", decision.ApprovalLevel)
		}
		return nil
	},
}

var accessGrantCmd = &cobra.Command{
	Use:   "grant DOCUMENT_ID",
	Short: "Grant a permission override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		permList, _ := cmd.Flags().GetStringSlice("permissions")
		grantedBy, _ := cmd.Flags().GetString("by")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")

		perms := make([]model.Permission, 0, len(permList))
		for _, p := range permList {
			perms = append(perms, model.Permission(p))
		}

		grant := model.DocumentPermission{
			DocumentID:  args[0],
			UserID:      userID,
			Role:        role,
			Permissions: perms,
			GrantedBy:   grantedBy,
		}
		if expiresIn > 0 {
			expires := time.Now().UTC().Add(expiresIn)
			grant.ExpiresAt = &expires
		}

		a, err := newApp(cmd.Context(), "GrantPermission")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.GrantPermission(cmd.Context(), grant); err != nil {
			return err
		}
		fmt.Println("Permission granted.")
		return nil
	},
}

var accessRevokeCmd = &cobra.Command{
	Use:   "revoke DOCUMENT_ID",
	Short: "Revoke a permission override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		revokedBy, _ := cmd.Flags().GetString("by")

		a, err := newApp(cmd.Context(), "RevokePermission")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RevokePermission(cmd.Context(), args[0], userID, role, revokedBy); err != nil {
			return err
		}
		fmt.Println("Permission revoked.")
		return nil
	},
}

// quarantine command
var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect and sweep quarantined documents",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "View the quarantine log",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "QuarantineList")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.QuarantineEntries(cmd.Context())
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("Quarantine is empty.")
			return nil
		}

		for _, e := range entries {
			state := "held"
			if e.SecurelyDeleted {
				state = "deleted"
			}
			fmt.Printf("%s  %-20s  %s  retain until %s  [%s]\n",
				e.DocumentID,
				e.SignatureName,
				e.QuarantinedAt.Format("2006-01-02 15:04:05"),
				e.RetainUntil.Format("2006-01-02"),
				state,
			)
		}
		return nil
	},
}

var quarantineSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Securely delete quarantined content past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SweepQuarantine")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.SweepQuarantine(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Securely deleted %d quarantined document(s)\n", n)
		return nil
	},
}

// rotate-key command
var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Rotate the master key and re-wrap all document keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RotateMasterKey")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RotateMasterKey(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Master key rotated.")
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup DOCUMENT_ID OUTPUT",
	Short: "Write a passphrase-protected backup archive of a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("creating archive: %w", err)
		}
		defer f.Close()

		if err := a.Backup(cmd.Context(), args[0], f, passphrase); err != nil {
			return err
		}
		fmt.Printf("Backup written to %s\n", args[1])
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore ARCHIVE",
	Short: "Restore a document's content from a backup archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "RestoreBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer f.Close()

		snap, err := a.RestoreBackup(cmd.Context(), f, passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("Restored content for document %s (%d bytes)\n", snap.DocumentID, len(snap.Payload))
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// process flags
	processCmd.Flags().String("title", "", "Document title (defaults to the file name)")
	processCmd.Flags().String("description", "", "Document description")
	processCmd.Flags().String("media-type", "", "Document media type (inferred from the file extension when omitted)")
	processCmd.Flags().String("sha256", "", "Expected SHA-256 checksum of the upload")
	processCmd.Flags().String("owner", "", "Owning user ID")
	processCmd.Flags().String("classification", "internal", "Initial classification level")
	processCmd.Flags().String("parent", "", "Parent document ID for a new version")
	processCmd.Flags().String("document-id", "", "Idempotent document ID; resubmitting reprocesses the document")

	// retrieve flags
	retrieveCmd.Flags().StringP("output", "o", "", "Write content to a file instead of stdout")
	userContextFlags(retrieveCmd)

	// access subcommands
	accessCmd.AddCommand(accessCheckCmd)
	userContextFlags(accessCheckCmd)
	accessCmd.AddCommand(accessGrantCmd)
	accessGrantCmd.Flags().String("user", "", "Grantee user ID")
	accessGrantCmd.Flags().String("role", "", "Grantee role")
	accessGrantCmd.Flags().StringSlice("permissions", nil, "Permissions to grant (e.g. read,download)")
	accessGrantCmd.Flags().String("by", "", "Granting user ID")
	accessGrantCmd.Flags().Duration("expires-in", 0, "Expiry for the grant (e.g. 72h)")
	accessCmd.AddCommand(accessRevokeCmd)
	accessRevokeCmd.Flags().String("user", "", "Grantee user ID")
	accessRevokeCmd.Flags().String("role", "", "Grantee role")
	accessRevokeCmd.Flags().String("by", "", "Revoking user ID")

	// quarantine subcommands
	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineCmd.AddCommand(quarantineSweepCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(quarantineCmd)
	rootCmd.AddCommand(rotateKeyCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
