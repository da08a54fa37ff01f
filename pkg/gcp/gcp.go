// Package gcp holds the credential and resource-name helpers shared by the
// Google Cloud clients.
package gcp

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"google.golang.org/api/option"
)

// ClientOptions picks inline JSON credentials over a credentials file. With
// neither set the client falls back to application default credentials.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}
	case strings.TrimSpace(cfg.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(strings.TrimSpace(cfg.ApplicationCredentials))}
	}
	return nil
}

// ResourceName expands a short id into projects/<project>/<collection>/<id>.
// Names already in full form pass through. It returns "" when either the id
// or the project is blank.
func ResourceName(project, collection, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+collection+"/") {
		return id
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", project, collection, id)
}
