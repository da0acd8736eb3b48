package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eleve/internal/app"
	"eleve/internal/config"
	"eleve/internal/database"
	"eleve/internal/errs"
	"eleve/internal/logging"
	"eleve/internal/models"
	"eleve/internal/security"
	"eleve/internal/validation"
)

func main() {
	// Define subcommands
	submitCmd := flag.NewFlagSet("submit", flag.ExitOnError)
	approveCmd := flag.NewFlagSet("approve", flag.ExitOnError)
	rejectCmd := flag.NewFlagSet("reject", flag.ExitOnError)
	expireCmd := flag.NewFlagSet("expire", flag.ExitOnError)
	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	showCmd := flag.NewFlagSet("show", flag.ExitOnError)
	verifyCmd := flag.NewFlagSet("verify", flag.ExitOnError)

	// Submit flags
	submitOrg := submitCmd.String("org", "", "Organization ID")
	submitOrgName := submitCmd.String("org-name", "", "Create a new organization with this name instead of -org")
	submitParent := submitCmd.String("parent", "", "Parent profile ID")
	submitParentName := submitCmd.String("parent-name", "", "Create a new parent profile with this name instead of -parent")
	submitParentEmail := submitCmd.String("parent-email", "", "Email of the new parent profile")
	submitChildren := submitCmd.String("children", "", `Children as JSON, e.g. '[{"name":"Alex Smith","age":9,"skill_level":"beginner"}]' (required)`)

	// Approve flags
	approveID := approveCmd.String("id", "", "Approval request ID (required)")
	approveActor := approveCmd.String("actor", "approvalctl", "Administrator recorded as the approver")

	// Reject flags
	rejectID := rejectCmd.String("id", "", "Approval request ID (required)")
	rejectActor := rejectCmd.String("actor", "approvalctl", "Administrator recorded as the rejecter")
	rejectReason := rejectCmd.String("reason", "", "Reason shown to the parent")

	// Expire flags
	expireTTL := expireCmd.Duration("ttl", 0, "Expire pending requests older than this (default: APPROVAL_TTL)")

	// Token flags
	tokenActor := tokenCmd.String("actor", "", "Administrator ID to issue a token for (required)")
	tokenTTL := tokenCmd.Duration("ttl", time.Hour, "Token lifetime")

	// Show flags
	showID := showCmd.String("id", "", "Approval request ID (required)")

	// Verify flags
	verifyUsername := verifyCmd.String("username", "", "Child username (required)")
	verifySecret := verifyCmd.String("secret", "", "Initial secret handed to the parent (required)")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err, "failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console"})

	if os.Args[1] == "token" {
		tokenCmd.Parse(os.Args[2:])
		if *tokenActor == "" {
			fmt.Fprintln(os.Stderr, "Error: -actor flag is required")
			tokenCmd.PrintDefaults()
			os.Exit(1)
		}
		handleToken(cfg, *tokenActor, *tokenTTL)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		fatal(err, "failed to open database")
	}
	defer db.Close()

	// Run migrations to ensure schema is up to date
	if err := db.RunMigrations(ctx); err != nil {
		fatal(err, "failed to run migrations")
	}

	services, err := app.New(ctx, cfg, db)
	if err != nil {
		fatal(err, "failed to wire services")
	}

	switch os.Args[1] {
	case "submit":
		submitCmd.Parse(os.Args[2:])
		if *submitChildren == "" {
			fmt.Fprintln(os.Stderr, "Error: -children flag is required")
			submitCmd.PrintDefaults()
			os.Exit(1)
		}
		handleSubmit(ctx, services, submitOptions{
			orgID:       *submitOrg,
			orgName:     *submitOrgName,
			parentID:    *submitParent,
			parentName:  *submitParentName,
			parentEmail: *submitParentEmail,
			children:    *submitChildren,
		})

	case "approve":
		approveCmd.Parse(os.Args[2:])
		if *approveID == "" {
			fmt.Fprintln(os.Stderr, "Error: -id flag is required")
			approveCmd.PrintDefaults()
			os.Exit(1)
		}
		handleApprove(ctx, services, *approveID, *approveActor)

	case "reject":
		rejectCmd.Parse(os.Args[2:])
		if *rejectID == "" {
			fmt.Fprintln(os.Stderr, "Error: -id flag is required")
			rejectCmd.PrintDefaults()
			os.Exit(1)
		}
		if err := services.Saga.Reject(ctx, *rejectID, *rejectActor, *rejectReason); err != nil {
			fatal(err, "reject failed")
		}
		printJSON(map[string]string{"requestId": *rejectID, "requestStatus": string(models.ApprovalStatusRejected)})

	case "expire":
		expireCmd.Parse(os.Args[2:])
		ttl := *expireTTL
		if ttl <= 0 {
			ttl = cfg.ApprovalTTL
		}
		expired, err := services.ExpireStale(ctx, ttl)
		if err != nil {
			fatal(err, "expire failed")
		}
		printJSON(map[string]int64{"expired": expired})

	case "show":
		showCmd.Parse(os.Args[2:])
		if *showID == "" {
			fmt.Fprintln(os.Stderr, "Error: -id flag is required")
			showCmd.PrintDefaults()
			os.Exit(1)
		}
		handleShow(ctx, services, *showID)

	case "verify":
		verifyCmd.Parse(os.Args[2:])
		if *verifyUsername == "" || *verifySecret == "" {
			fmt.Fprintln(os.Stderr, "Error: -username and -secret flags are required")
			verifyCmd.PrintDefaults()
			os.Exit(1)
		}
		identityID, err := services.VerifyCredential(ctx, *verifyUsername, *verifySecret)
		if errors.Is(err, errs.ErrNotFound) {
			fmt.Fprintln(os.Stderr, "Error: username or secret is wrong")
			os.Exit(1)
		}
		if err != nil {
			fatal(err, "verify failed")
		}
		printJSON(map[string]string{"username": *verifyUsername, "identityId": identityID})

	default:
		printUsage()
		os.Exit(1)
	}
}

type submitOptions struct {
	orgID       string
	orgName     string
	parentID    string
	parentName  string
	parentEmail string
	children    string
}

func handleSubmit(ctx context.Context, services *app.App, opts submitOptions) {
	var children []models.ChildSpec
	if err := json.Unmarshal([]byte(opts.children), &children); err != nil {
		fatal(err, "invalid -children JSON")
	}
	if err := validation.ValidateChildren(children); err != nil {
		fatal(err, "invalid children")
	}

	orgID := opts.orgID
	if orgID == "" {
		if opts.orgName == "" {
			fatal(errors.New("one of -org or -org-name is required"), "missing organization")
		}
		org, err := services.Organizations.Create(ctx, opts.orgName)
		if err != nil {
			fatal(err, "failed to create organization")
		}
		orgID = org.ID
	}

	parentID := opts.parentID
	if parentID == "" {
		if opts.parentName == "" {
			fatal(errors.New("one of -parent or -parent-name is required"), "missing parent")
		}
		if opts.parentEmail != "" {
			if err := validation.ValidateEmail(opts.parentEmail); err != nil {
				fatal(err, "invalid -parent-email")
			}
		}
		id, err := services.Profiles.CreateProfile(ctx, "", models.Profile{
			FullName:       opts.parentName,
			Role:           models.RoleParent,
			OrganizationID: orgID,
			Email:          opts.parentEmail,
		})
		if err != nil {
			fatal(err, "failed to create parent profile")
		}
		parentID = id
	}

	req, err := services.Approvals.Create(ctx, parentID, orgID, children)
	if err != nil {
		fatal(err, "failed to submit request")
	}
	printJSON(map[string]any{
		"requestId":      req.ID,
		"parentId":       parentID,
		"organizationId": orgID,
		"children":       len(children),
		"requestStatus":  string(req.Status),
	})
}

type accountOutput struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type failureOutput struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type rollbackWarningOutput struct {
	Name       string `json:"name"`
	Step       string `json:"step"`
	ResourceID string `json:"resourceId"`
}

func handleApprove(ctx context.Context, services *app.App, requestID, actorID string) {
	result, err := services.Saga.Run(ctx, requestID, actorID)
	if result == nil {
		fatal(err, "approve failed")
	}

	// the operator relays initial secrets to the parent out of band
	out := struct {
		RequestStatus    string                  `json:"requestStatus"`
		Accounts         []accountOutput         `json:"accounts"`
		FailedChildren   []failureOutput         `json:"failedChildren"`
		RollbackWarnings []rollbackWarningOutput `json:"rollbackWarnings"`
		Error            string                  `json:"error,omitempty"`
	}{
		RequestStatus:    string(result.Status),
		Accounts:         []accountOutput{},
		FailedChildren:   []failureOutput{},
		RollbackWarnings: []rollbackWarningOutput{},
	}
	for _, a := range result.Accounts {
		out.Accounts = append(out.Accounts, accountOutput{Name: a.Child.Name, Username: a.Username, Secret: a.Secret})
	}
	for _, f := range result.Failures {
		out.FailedChildren = append(out.FailedChildren, failureOutput{Name: f.Child.Name, Reason: f.Reason})
	}
	for _, w := range result.Warnings {
		out.RollbackWarnings = append(out.RollbackWarnings, rollbackWarningOutput{Name: w.Child.Name, Step: w.Step, ResourceID: w.ResourceID})
	}
	if err != nil {
		out.Error = err.Error()
	}
	printJSON(out)

	var partial *errs.PartialFailureError
	if err != nil && !errors.As(err, &partial) {
		os.Exit(1)
	}
	if partial != nil {
		os.Exit(2)
	}
}

type studentOutput struct {
	StudentID  string `json:"studentId"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Age        int    `json:"age"`
	SkillLevel string `json:"skillLevel"`
}

func handleShow(ctx context.Context, services *app.App, requestID string) {
	details, err := services.ShowRequest(ctx, requestID)
	if err != nil {
		fatal(err, "show failed")
	}

	req := details.Request
	out := struct {
		RequestID     string             `json:"requestId"`
		RequestStatus string             `json:"requestStatus"`
		ParentID      string             `json:"parentId"`
		Children      []models.ChildSpec `json:"children"`
		Students      []studentOutput    `json:"students"`
	}{
		RequestID:     req.ID,
		RequestStatus: string(req.Status),
		ParentID:      req.ParentID,
		Children:      req.Children,
		Students:      []studentOutput{},
	}
	for _, acc := range details.Accounts {
		out.Students = append(out.Students, studentOutput{
			StudentID:  acc.Student.ID,
			Name:       acc.Profile.FullName,
			Username:   acc.Profile.Username,
			Age:        acc.Student.Age,
			SkillLevel: string(acc.Student.SkillLevel),
		})
	}
	printJSON(out)
}

func handleToken(cfg *config.Config, actorID string, ttl time.Duration) {
	token, err := security.NewTokenVerifier(cfg.AdminJWTSecret).IssueAdmin(actorID, ttl)
	if err != nil {
		fatal(err, "failed to issue token")
	}
	fmt.Println(token)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err, "failed to write output")
	}
}

func fatal(err error, msg string) {
	logging.Logger.Fatal().Err(err).Msg(msg)
}

func printUsage() {
	fmt.Println("Eleve Approval Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  approvalctl submit -org-name <name> -parent-name <name> -parent-email <email> -children <json>")
	fmt.Println("  approvalctl approve -id <request id> [-actor <admin id>]")
	fmt.Println("  approvalctl reject -id <request id> [-reason <text>] [-actor <admin id>]")
	fmt.Println("  approvalctl expire [-ttl <duration>]")
	fmt.Println("  approvalctl token -actor <admin id> [-ttl <duration>]")
	fmt.Println("  approvalctl show -id <request id>")
	fmt.Println("  approvalctl verify -username <username> -secret <secret>")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println(`  approvalctl submit -org-name "Riverside Skate School" -parent-name "Sam Johnson" \`)
	fmt.Println(`      -children '[{"name":"Alex Johnson","age":9,"skill_level":"beginner"}]'`)
	fmt.Println("  approvalctl approve -id 0b8f...")
	fmt.Println("  approvalctl expire -ttl 168h")
}
