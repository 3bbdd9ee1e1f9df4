package tenantRepo

import (
	"context"

	"tavolo/models"
)

// TenantRepository resolves restaurant accounts and their booking rules.
type TenantRepository interface {
	// GetByID retrieves a tenant by its unique id.
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	// GetBySlug retrieves a tenant by its public slug.
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	// GetByPhoneNumberID retrieves the tenant owning a WhatsApp phone number id,
	// used to route inbound webhook traffic.
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Tenant, error)
}
