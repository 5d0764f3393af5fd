package domain

import "fmt"

// Icon is one of the closed set of icon tags understood by the console.
type Icon string

const (
	IconNone       Icon = ""
	IconDashboard  Icon = "dashboard"
	IconMonitoring Icon = "monitoring"
	IconNotebook   Icon = "notebook"
	IconGitOps     Icon = "gitops"
	IconCluster    Icon = "cluster"
	IconUsers      Icon = "users"
	IconSync       Icon = "sync"
	IconJobs       Icon = "jobs"
	IconStorage    Icon = "storage"
	IconTerminal   Icon = "terminal"
	IconSettings   Icon = "settings"
	IconHelp       Icon = "help"
)

var knownIcons = map[Icon]struct{}{
	IconNone:       {},
	IconDashboard:  {},
	IconMonitoring: {},
	IconNotebook:   {},
	IconGitOps:     {},
	IconCluster:    {},
	IconUsers:      {},
	IconSync:       {},
	IconJobs:       {},
	IconStorage:    {},
	IconTerminal:   {},
	IconSettings:   {},
	IconHelp:       {},
}

// Valid reports whether i is a known icon tag.
func (i Icon) Valid() bool {
	_, ok := knownIcons[i]
	return ok
}

// UnmarshalText rejects unknown icon tags instead of falling back to a default.
func (i *Icon) UnmarshalText(b []byte) error {
	v := Icon(b)
	if !v.Valid() {
		return fmt.Errorf("unknown icon %q", string(b))
	}
	*i = v
	return nil
}

// WidgetType is one of the closed set of embeddable panel kinds.
type WidgetType string

const (
	WidgetMonitoring WidgetType = "monitoring"
	WidgetNotebook   WidgetType = "notebook"
	WidgetGitOps     WidgetType = "gitops"
	WidgetLogs       WidgetType = "logs"
	WidgetTerminal   WidgetType = "terminal"
	WidgetIframe     WidgetType = "iframe"
	WidgetLink       WidgetType = "link"
)

// WidgetSpec describes how a widget type is presented by default.
type WidgetSpec struct {
	Icon        Icon
	DefaultSize Size
	Embedded    bool
}

var widgetSpecs = map[WidgetType]WidgetSpec{
	WidgetMonitoring: {Icon: IconMonitoring, DefaultSize: Size{Width: 6, Height: 4}, Embedded: true},
	WidgetNotebook:   {Icon: IconNotebook, DefaultSize: Size{Width: 6, Height: 6}, Embedded: true},
	WidgetGitOps:     {Icon: IconGitOps, DefaultSize: Size{Width: 6, Height: 4}, Embedded: true},
	WidgetLogs:       {Icon: IconMonitoring, DefaultSize: Size{Width: 12, Height: 4}, Embedded: true},
	WidgetTerminal:   {Icon: IconTerminal, DefaultSize: Size{Width: 12, Height: 6}, Embedded: true},
	WidgetIframe:     {Icon: IconDashboard, DefaultSize: Size{Width: 6, Height: 4}, Embedded: true},
	WidgetLink:       {Icon: IconHelp, DefaultSize: Size{Width: 3, Height: 1}},
}

// Spec returns the presentation defaults for t.
func (t WidgetType) Spec() (WidgetSpec, bool) {
	s, ok := widgetSpecs[t]
	return s, ok
}

// Valid reports whether t is a known widget type.
func (t WidgetType) Valid() bool {
	_, ok := widgetSpecs[t]
	return ok
}

func (t *WidgetType) UnmarshalText(b []byte) error {
	v := WidgetType(b)
	if !v.Valid() {
		return fmt.Errorf("unknown widget type %q", string(b))
	}
	*t = v
	return nil
}
