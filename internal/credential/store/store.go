// Package store persists credentials. Uniqueness of document numbers, tokens
// and live credentials is enforced here; callers learn about it through
// sentinel errors.
package store

import (
	"context"

	"examboard/internal/credential/models"
	id "examboard/pkg/domain"
)

type Store interface {
	// Create returns sentinel.ErrAlreadyUsed when a live credential of the
	// same kind exists for the student and exam year.
	Create(ctx context.Context, c *models.Credential) error
	FindByID(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error)
	FindForUpdate(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error)
	FindLive(ctx context.Context, studentID id.StudentID, examYearID id.ExamYearID, kind models.Kind) (*models.Credential, error)
	FindByToken(ctx context.Context, token models.Token) (*models.Credential, error)
	// Revoke writes the revocation fields of a credential that is not yet
	// revoked; sentinel.ErrInvalidState otherwise.
	Revoke(ctx context.Context, c *models.Credential) error
	// IncrementPrint bumps the print count of a live credential and returns
	// the new count.
	IncrementPrint(ctx context.Context, credentialID id.CredentialID) (int, error)
}
