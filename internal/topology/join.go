package topology

import (
	"strings"

	"github.com/pkg/errors"
)

// JoinMethod selects how a worker instance joins the directory. It is either a
// DirectoryJoin or a SecretJoin; no other implementations exist.
type JoinMethod interface {
	joinMethod()
}

// DirectoryJoin joins through the platform-native domain-join document.
type DirectoryJoin struct {
	DirectoryID   string
	DirectoryName string
}

// SecretJoin joins from a startup script that reads the admin credential
// from the secret at boot.
type SecretJoin struct {
	SecretArn string
}

func (DirectoryJoin) joinMethod() {}
func (SecretJoin) joinMethod()    {}

// ResolveJoinMethod picks the join method from optional references. Exactly one
// of the directory reference or the secret ARN must be supplied.
func ResolveJoinMethod(directoryID, directoryName, secretArn string) (JoinMethod, error) {
	hasDirectory := directoryID != "" || directoryName != ""
	hasSecret := secretArn != ""

	switch {
	case hasDirectory && hasSecret:
		return nil, errors.New("join method is ambiguous: both a directory and a secret were supplied")
	case !hasDirectory && !hasSecret:
		return nil, errors.New("join method is missing: supply a directory or a secret")
	case hasSecret:
		return SecretJoin{SecretArn: secretArn}, nil
	}

	if directoryID == "" || directoryName == "" {
		return nil, errors.New("directory join needs both the directory id and the directory name")
	}
	return DirectoryJoin{DirectoryID: directoryID, DirectoryName: directoryName}, nil
}

// ValidateJoin checks the worker's join settings before anything is deployed.
// The secret ARN is only published once the shared zone is up, so a secret
// join only has to be free of directory references here.
func (w WorkerSettings) ValidateJoin() error {
	switch strings.ToLower(w.JoinMethod) {
	case "secret":
		if w.DirectoryID != "" || w.DirectoryName != "" {
			return errors.New("join method is ambiguous: secret join with a directory reference")
		}
		return nil
	case "directory":
		_, err := ResolveJoinMethod(w.DirectoryID, w.DirectoryName, "")
		return err
	}
	return errors.Errorf("workerJoinMethod must be secret or directory, got %q", w.JoinMethod)
}
