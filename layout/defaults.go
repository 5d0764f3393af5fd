package layout

import "ops-console/domain"

// Role names used by the built-in layout.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleAnalyst  = "analyst"
)

// DefaultItems returns the compiled-in navigation shown before a user saves
// anything. A fresh slice is returned on every call.
func DefaultItems() []domain.Item {
	return []domain.Item{
		{ID: "nav-dashboard", Key: "dashboard", LabelKey: "nav.dashboard", Icon: domain.IconDashboard, Visible: true, Order: 0},
		{ID: "nav-clusters", Key: "clusters", LabelKey: "nav.clusters", Icon: domain.IconCluster, Visible: true, Order: 1},
		{ID: "nav-monitoring", Key: "monitoring", LabelKey: "nav.monitoring", Icon: domain.IconMonitoring, Visible: true, Order: 2},
		{ID: "nav-notebooks", Key: "notebooks", LabelKey: "nav.notebooks", Icon: domain.IconNotebook, Visible: true, Order: 3, Roles: []string{RoleAnalyst, RoleAdmin}},
		{ID: "nav-gitops", Key: "gitops", LabelKey: "nav.gitops", Icon: domain.IconGitOps, Visible: true, Order: 4, Roles: []string{RoleOperator, RoleAdmin}},
		{ID: "nav-jobs", Key: "jobs", LabelKey: "nav.jobs", Icon: domain.IconJobs, Visible: true, Order: 5, Roles: []string{RoleOperator, RoleAdmin}},
		{ID: "nav-users", Key: "users", LabelKey: "nav.users", Icon: domain.IconUsers, Visible: true, Order: 6, Roles: []string{RoleAdmin}},
		{ID: "nav-sync", Key: "sync", LabelKey: "nav.sync", Icon: domain.IconSync, Visible: true, Order: 7, Roles: []string{RoleAdmin}},
		{ID: "nav-settings", Key: "settings", LabelKey: "nav.settings", Icon: domain.IconSettings, Visible: true, Order: 8},
		{ID: "nav-help", Key: "help", LabelKey: "nav.help", Icon: domain.IconHelp, Visible: false, Order: 9},
	}
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() []domain.Template {
	return []domain.Template{
		{
			Name:        "operations",
			Description: "Cluster health, GitOps state and logs",
			Items: []domain.PartialItem{
				{Key: "cluster-health", LabelKey: "widget.clusterHealth", Widget: &domain.Widget{Type: domain.WidgetMonitoring, Title: "Cluster health", Source: "/grafana/d/cluster-health"}},
				{Key: "gitops-status", LabelKey: "widget.gitopsStatus", Roles: []string{RoleOperator, RoleAdmin}, Widget: &domain.Widget{Type: domain.WidgetGitOps, Title: "GitOps", Source: "/argocd/applications"}},
				{Key: "platform-logs", LabelKey: "widget.platformLogs", Roles: []string{RoleAdmin}, Widget: &domain.Widget{Type: domain.WidgetLogs, Title: "Platform logs", Source: "/logs/platform"}},
			},
		},
		{
			Name:        "analytics",
			Description: "Notebooks and monitoring for data work",
			Items: []domain.PartialItem{
				{Key: "dashboard", LabelKey: "nav.dashboard", Icon: domain.IconDashboard},
				{Key: "notebooks", LabelKey: "widget.notebooks", Roles: []string{RoleAnalyst, RoleAdmin}, Widget: &domain.Widget{Type: domain.WidgetNotebook, Title: "Notebooks", Source: "/jupyter/lab"}},
				{Key: "usage", LabelKey: "widget.usage", Widget: &domain.Widget{Type: domain.WidgetMonitoring, Title: "Usage", Source: "/grafana/d/usage", Size: domain.Size{Width: 12, Height: 4}}},
			},
		},
		{
			Name:        "minimal",
			Description: "Dashboard and help only",
			Items: []domain.PartialItem{
				{Key: "dashboard", LabelKey: "nav.dashboard", Icon: domain.IconDashboard},
				{Key: "help", LabelKey: "nav.help", Icon: domain.IconHelp},
			},
		},
	}
}
