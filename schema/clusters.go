package schema

import "github.com/loiht2/payload-forge/models"

// DefaultCluster is the cluster selected for new configurations
const DefaultCluster = "default"

// ProductionConfirmation is the text that must be typed to select a production cluster
const ProductionConfirmation = "PROD"

type cluster struct {
	name       string
	production bool
}

// Adding a cluster, or marking one as production, only touches this table.
var clusters = []cluster{
	{name: DefaultCluster},
	{name: "ump-analytics-workflow-1", production: true},
	{name: "ump-analytics-workflow-2", production: true},
	{name: "ump-analytics-workflow-3"},
	{name: "ump-analytics-workflow-4"},
	{name: "ump-analytics-workflow-5"},
}

// ClusterNames returns every selectable cluster in display order
func ClusterNames() []string {
	names := make([]string, 0, len(clusters))
	for _, c := range clusters {
		names = append(names, c.name)
	}
	return names
}

// ClusterOptions returns the cluster table in a form suitable for selection lists
func ClusterOptions() []models.ClusterOption {
	options := make([]models.ClusterOption, 0, len(clusters))
	for _, c := range clusters {
		options = append(options, models.ClusterOption{
			Value:      c.name,
			Label:      c.name,
			Production: c.production,
			Default:    c.name == DefaultCluster,
		})
	}
	return options
}

// IsKnownCluster reports whether name is one of the selectable clusters
func IsKnownCluster(name string) bool {
	for _, c := range clusters {
		if c.name == name {
			return true
		}
	}
	return false
}

// IsProductionCluster reports whether selecting name requires typed confirmation
func IsProductionCluster(name string) bool {
	for _, c := range clusters {
		if c.name == name {
			return c.production
		}
	}
	return false
}
