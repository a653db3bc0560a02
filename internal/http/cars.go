package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iosfx/autoservice/internal/core"
)

func (s *Server) createCar(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClientID        string  `json:"client_id"`
		LicensePlate    string  `json:"license_plate"`
		VIN             *string `json:"vin"`
		Make            *string `json:"make"`
		Model           *string `json:"model"`
		CurrentMileage  int     `json:"current_mileage"`
		LastServiceDate string  `json:"last_service_date"`
	}
	if err := decode(r, &in); err != nil || in.ClientID == "" || in.LicensePlate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "client_id and license_plate are required"})
		return
	}
	lastService, err := dateOnly(in.LastServiceDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "last_service_date must be YYYY-MM-DD"})
		return
	}

	car, err := s.Store.CreateCar(r.Context(), garageID(r), core.Car{
		ClientID:        in.ClientID,
		LicensePlate:    in.LicensePlate,
		VIN:             in.VIN,
		Make:            in.Make,
		Model:           in.Model,
		CurrentMileage:  in.CurrentMileage,
		LastServiceDate: lastService,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, car)
}

func (s *Server) getCar(w http.ResponseWriter, r *http.Request) {
	car, err := s.Store.GetCar(r.Context(), chi.URLParam(r, "id"), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

func (s *Server) updateCarMileage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Mileage int `json:"mileage"`
	}
	if err := decode(r, &in); err != nil || in.Mileage <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "mileage must be greater than 0"})
		return
	}

	car, err := s.Store.UpdateCarMileage(r.Context(), chi.URLParam(r, "id"), garageID(r), in.Mileage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

func (s *Server) recordVisit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ServiceDate    string  `json:"service_date"`
		MileageAtVisit int     `json:"mileage_at_visit"`
		Notes          *string `json:"notes"`
	}
	if err := decode(r, &in); err != nil || in.MileageAtVisit < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	serviceDate, err := dateOnly(in.ServiceDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "service_date must be YYYY-MM-DD"})
		return
	}
	if serviceDate == nil {
		now := time.Now().UTC()
		serviceDate = &now
	}

	visit, err := s.Store.RecordServiceVisit(r.Context(), garageID(r), core.ServiceVisit{
		CarID:          chi.URLParam(r, "id"),
		ServiceDate:    *serviceDate,
		MileageAtVisit: in.MileageAtVisit,
		Notes:          in.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

func (s *Server) listCarVisits(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	visits, err := s.Store.ListVisitsByCar(r.Context(), chi.URLParam(r, "id"), garageID(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visits)
}

func intQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
