package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/domain/alerts"
	"github.com/lims/lims/internal/domain/catalog"
	"github.com/lims/lims/internal/domain/facility"
	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/domain/staff"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/internal/seed"
)

// services is the domain service graph shared by serve and the admin
// commands.
type services struct {
	facility *facility.Service
	catalog  *catalog.Service
	staff    *staff.Service
	account  *account.Service
	lab      *lab.Service
	alerts   *alerts.Service
}

func newServices(pool *pgxpool.Pool, issuer *auth.Issuer) *services {
	s := &services{}
	s.facility = facility.NewService(facility.NewNodalRepo(pool), facility.NewHospitalRepo(pool))
	s.catalog = catalog.NewService(catalog.NewKitRepo(pool), catalog.NewInvestigationRepo(pool), catalog.NewProfileRepo(pool))

	staffRefs := staff.NewRefLookup(pool)
	s.staff = staff.NewService(staff.NewTechnicianRepo(pool), staffRefs, staffRefs)

	s.account = account.NewService(account.NewUserRepo(pool), account.NewMappingRepo(pool), account.NewRefLookup(pool), issuer)
	s.lab = lab.NewService(lab.NewPatientRepo(pool), lab.NewSampleRepo(pool), lab.NewResultRepo(pool), s.catalog, s.facility)
	s.lab.SetScopes(s.account)
	s.alerts = alerts.NewService(alerts.NewFeedRepo(pool), s.account)
	return s
}

func (s *services) seeder(logger zerolog.Logger) *seed.Seeder {
	return seed.NewSeeder(s.facility, s.catalog, s.account, s.staff, logger)
}
