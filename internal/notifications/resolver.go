package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
	apperrors "github.com/charlesng35/carecoord/pkg/errors"
)

const (
	caregiverJoinTable = "patient_caregivers"
	familyJoinTable    = "patient_family_members"
)

// RecipientSet is the care circle of a patient, split by relationship.
// All is the de-duplicated union in hospital, caregiver, family order.
type RecipientSet struct {
	HospitalAdmins []string
	Caregivers     []string
	FamilyMembers  []string
	All            []string
}

// Empty reports whether no recipient qualified.
func (s RecipientSet) Empty() bool {
	return len(s.All) == 0
}

// Resolver maps domain entities to the users entitled to hear about them.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("recipient resolver: db is required")
	}
	return &Resolver{db: db}, nil
}

// ResolveForPatient returns the patient's hospital admin, caregivers and family members.
// Every candidate is re-validated in one query: it must exist, be active, not be deleted
// and hold the role its relationship implies. A patient with nobody qualifying yields an
// empty set without error.
func (r *Resolver) ResolveForPatient(ctx context.Context, patientID string) (RecipientSet, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return RecipientSet{}, apperrors.NewBadRequest("patient id is required")
	}

	var patient models.Patient
	if err := r.db.WithContext(ctx).
		Select("id", "hospital_id").
		Where("id = ?", patientID).
		First(&patient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RecipientSet{}, apperrors.NewNotFound("patient")
		}
		return RecipientSet{}, fmt.Errorf("recipient resolver: load patient: %w", err)
	}

	var hospitalRefs []string
	if patient.HospitalID != nil && strings.TrimSpace(*patient.HospitalID) != "" {
		hospitalRefs = []string{strings.TrimSpace(*patient.HospitalID)}
	}
	caregiverRefs, err := r.joinRefs(ctx, caregiverJoinTable, patientID)
	if err != nil {
		return RecipientSet{}, err
	}
	familyRefs, err := r.joinRefs(ctx, familyJoinTable, patientID)
	if err != nil {
		return RecipientSet{}, err
	}

	candidates := uniqueIDs(hospitalRefs, caregiverRefs, familyRefs)
	if len(candidates) == 0 {
		return RecipientSet{}, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).
		Select("id", "role").
		Where("id IN ? AND is_active = ?", candidates, true).
		Find(&users).Error; err != nil {
		return RecipientSet{}, fmt.Errorf("recipient resolver: load users: %w", err)
	}
	roles := make(map[string]models.UserRole, len(users))
	for _, user := range users {
		roles[user.ID] = user.Role
	}

	set := RecipientSet{
		HospitalAdmins: filterByRole(hospitalRefs, roles, models.RoleHospital),
		Caregivers:     filterByRole(caregiverRefs, roles, models.RoleCaregiver, models.RoleNurse),
		FamilyMembers:  filterByRole(familyRefs, roles, models.RoleFamily),
	}
	set.All = uniqueIDs(set.HospitalAdmins, set.Caregivers, set.FamilyMembers)
	return set, nil
}

// ResolveHospitalStaff returns active staff created by hospitalAdminID whose role is in roles,
// minus excludeUserID. An empty roles slice matches every role.
func (r *Resolver) ResolveHospitalStaff(ctx context.Context, hospitalAdminID string, roles []models.UserRole, excludeUserID string) ([]string, error) {
	hospitalAdminID = strings.TrimSpace(hospitalAdminID)
	if hospitalAdminID == "" {
		return nil, apperrors.NewBadRequest("hospital id is required")
	}

	query := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("created_by = ? AND is_active = ?", hospitalAdminID, true)
	if len(roles) > 0 {
		query = query.Where("role IN ?", roles)
	}
	if exclude := strings.TrimSpace(excludeUserID); exclude != "" {
		query = query.Where("id <> ?", exclude)
	}

	var ids []string
	if err := query.Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("recipient resolver: load hospital staff: %w", err)
	}
	return ids, nil
}

// ResolveSuperAdmins returns every active super admin.
func (r *Resolver) ResolveSuperAdmins(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ? AND is_active = ?", models.RoleSuperAdmin, true).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("recipient resolver: load super admins: %w", err)
	}
	return ids, nil
}

func (r *Resolver) joinRefs(ctx context.Context, table, patientID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Table(table).
		Where("patient_id = ?", patientID).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("recipient resolver: load %s: %w", table, err)
	}
	return ids, nil
}

func filterByRole(refs []string, roles map[string]models.UserRole, allowed ...models.UserRole) []string {
	var out []string
	for _, id := range uniqueIDs(refs) {
		role, ok := roles[id]
		if !ok {
			continue
		}
		for _, want := range allowed {
			if role == want {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func uniqueIDs(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range groups {
		for _, id := range group {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
