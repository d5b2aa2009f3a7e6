package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/ATPFlow/internal/catalog"
	"github.com/MikeSquared-Agency/ATPFlow/internal/hermes"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
	"github.com/MikeSquared-Agency/ATPFlow/internal/workflow"
)

// withEngine opens the database read path and runs fn against an engine
// that publishes nowhere.
func (c *commandContext) withEngine(cmd *cobra.Command, fn func(*workflow.Engine) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()
	engine, err := newEngine(cfg, db, hermes.Multi{}, newLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return err
	}
	return fn(engine)
}

func newCatalogCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the configured review stages per workflow path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.ensureConfig()
			if err != nil {
				return err
			}
			cat, err := catalog.FromConfig(cfg.Workflow)
			if err != nil {
				return err
			}

			if c.wantJSON(cmd) {
				out := make(map[store.Category][]catalog.StageDef)
				for _, p := range cat.Paths() {
					out[p], _ = cat.Stages(p)
				}
				return writeJSON(cmd, out)
			}

			var rows [][]string
			for _, p := range cat.Paths() {
				defs, _ := cat.Stages(p)
				for _, d := range defs {
					rows = append(rows, []string{string(p), strconv.Itoa(d.Number), d.Code, d.Name, string(d.Role), strconv.Itoa(d.SLAHours)})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Path", "#", "Code", "Name", "Role", "SLA (h)"}, rows, 1, 5))
			return nil
		},
	}
}

func parseRoleFlag(raw string) (*store.Role, error) {
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil, nil
	}
	role, err := store.ParseRole(raw)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func newPendingCommand(c *commandContext) *cobra.Command {
	var roleFlag string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending reviews, earliest deadline first",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRoleFlag(roleFlag)
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(e *workflow.Engine) error {
				reviews, err := e.ListPending(cmd.Context(), role)
				if err != nil {
					return err
				}
				if c.wantJSON(cmd) {
					return writeJSON(cmd, reviews)
				}
				if len(reviews) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending reviews")
					return nil
				}
				rows := make([][]string, 0, len(reviews))
				for _, r := range reviews {
					deadline := ""
					if r.SLADeadline != nil {
						deadline = r.SLADeadline.Format("2006-01-02 15:04")
					}
					sla := string(r.SLAStatus)
					if r.Urgent {
						sla += " (urgent)"
					}
					rows = append(rows, []string{r.DocumentCode, r.SiteID, r.StageName, string(r.RoleRequired), deadline, sla, strconv.Itoa(r.HoursRemaining)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Document", "Site", "Stage", "Role", "Deadline", "SLA", "Hours left"}, rows, 6))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&roleFlag, "role", "", "Only show stages for this role (default all)")
	return cmd
}

func newDocumentCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "document <id|code>",
		Short: "Show a document with its stages and punchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(e *workflow.Engine) error {
				var (
					view *workflow.DocumentView
					err  error
				)
				if id, perr := uuid.Parse(args[0]); perr == nil {
					view, err = e.GetDocument(cmd.Context(), id)
				} else {
					view, err = e.GetDocumentByCode(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				if c.wantJSON(cmd) {
					return writeJSON(cmd, view)
				}
				printDocument(cmd, view)
				return nil
			})
		},
	}
}

func printDocument(cmd *cobra.Command, v *workflow.DocumentView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  site %s  %s\n", v.Code, v.SiteID, v.Status)
	fmt.Fprintf(out, "Path: %s  Stage: %s  Progress: %d%%\n", v.WorkflowPath, v.CurrentStageLabel, v.Progress.Percentage)
	if v.Progress.CurrentStage != nil && v.Progress.HoursRemaining != nil {
		fmt.Fprintf(out, "SLA: %s, %dh remaining\n", v.Progress.SLAStatus, *v.Progress.HoursRemaining)
	}

	if len(v.Stages) > 0 {
		rows := make([][]string, 0, len(v.Stages))
		for _, st := range v.Stages {
			decision := ""
			if st.Decision != nil {
				decision = string(*st.Decision)
			}
			rows = append(rows, []string{strconv.Itoa(st.StageNumber), st.StageName, string(st.RoleRequired), string(st.Status), decision, st.ReviewerID})
		}
		fmt.Fprintln(out, renderTable([]string{"#", "Stage", "Role", "Status", "Decision", "Reviewer"}, rows, 0))
	}

	if len(v.Punchlist) > 0 {
		rows := make([][]string, 0, len(v.Punchlist))
		for _, it := range v.Punchlist {
			rows = append(rows, []string{it.Number, string(it.Severity), string(it.Status), it.AssignedTeam, it.Description})
		}
		fmt.Fprintln(out, renderTable([]string{"Item", "Severity", "Status", "Team", "Description"}, rows))
	}
}

func newDashboardCommand(c *commandContext) *cobra.Command {
	var roleFlag string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show workflow statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRoleFlag(roleFlag)
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(e *workflow.Engine) error {
				d, err := e.Dashboard(cmd.Context(), role)
				if err != nil {
					return err
				}
				if c.wantJSON(cmd) {
					return writeJSON(cmd, d)
				}
				rows := [][]string{
					{"Documents", strconv.Itoa(d.TotalDocuments)},
					{"Pending reviews", strconv.Itoa(d.PendingReviews)},
					{"Overdue reviews", strconv.Itoa(d.OverdueReviews)},
					{"Active punchlist", strconv.Itoa(d.ActivePunchlist)},
					{"Critical punchlist", strconv.Itoa(d.CriticalPunchlist)},
					{"Approval rate", strconv.FormatFloat(d.ApprovalRate, 'f', 1, 64) + "%"},
				}
				for _, s := range []store.DocumentStatus{store.DocumentSubmitted, store.DocumentInReview, store.DocumentApproved, store.DocumentRejected} {
					rows = append(rows, []string{"Status " + string(s), strconv.Itoa(d.ByStatus[string(s)])})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, 1))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&roleFlag, "role", "", "Scope pending counts to this role (default all)")
	return cmd
}
