package discovery

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// Limiter gates outgoing requests
type Limiter interface {
	WaitForSlot(ctx context.Context) error
}

// Geocoder resolves an address to a location
type Geocoder interface {
	Geocode(ctx context.Context, addr domain.Address) (*domain.Location, error)
}

// Service finds the jurisdiction governing an address
type Service struct {
	geocoder  Geocoder
	directory *Directory
	prober    *Prober
	logger    *slog.Logger
}

// NewService wires the discovery steps; any of geocoder, directory or prober may be nil
func NewService(geocoder Geocoder, directory *Directory, prober *Prober, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		geocoder:  geocoder,
		directory: directory,
		prober:    prober,
		logger:    logger,
	}
}

// Discover returns the jurisdiction for addr or domain.ErrJurisdictionNotFound.
// The address itself is never modified.
func (s *Service) Discover(ctx context.Context, addr domain.Address) (*domain.Jurisdiction, error) {
	var loc *domain.Location
	if s.geocoder != nil {
		l, err := s.geocoder.Geocode(ctx, addr)
		switch {
		case err == nil:
			loc = l
		case errors.Is(err, context.Canceled):
			return nil, err
		default:
			s.logger.Warn("Geocoding failed, continuing without location",
				slog.String("address", addr.OneLine()),
				slog.String("error", err.Error()))
		}
	}

	county := addr.County
	place := ""
	if loc != nil {
		if county == "" {
			county = loc.County
		}
		place = loc.Place
	}

	if s.directory != nil {
		if j, ok := s.lookup(addr.State, addr.City, place, county); ok {
			j.Location = loc
			return j, nil
		}
	}

	if s.prober != nil && strings.TrimSpace(addr.City) != "" {
		j, err := s.prober.Probe(ctx, addr)
		if err == nil {
			j.Location = loc
			return j, nil
		}
		if !errors.Is(err, domain.ErrJurisdictionNotFound) {
			return nil, err
		}
	}

	return nil, domain.ErrJurisdictionNotFound
}

func (s *Service) lookup(state, city, place, county string) (*domain.Jurisdiction, bool) {
	if j, ok := s.directory.LookupCity(state, city); ok {
		return j, true
	}
	if j, ok := s.directory.LookupCity(state, place); ok {
		return j, true
	}
	return s.directory.LookupCounty(state, county)
}
