package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-rewards/internal/models"
)

// OSRMClient measures traces along the road network using an OSRM server.
type OSRMClient struct {
	Endpoint string
	Profile  string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Profile:  "cycling",
		Client:   &http.Client{Timeout: 2 * time.Second},
	}
}

// TraceMeters queries /route through every trace point and returns the
// routed distance rounded to whole meters.
func (o *OSRMClient) TraceMeters(ctx context.Context, trace []models.Coord) (uint64, error) {
	if len(trace) < 2 {
		return 0, nil
	}
	points := make([]string, len(trace))
	for i, c := range trace {
		points[i] = fmt.Sprintf("%.6f,%.6f", c.Lon, c.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/%s/%s?overview=false", o.Endpoint, o.Profile, strings.Join(points, ";"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("distance: osrm returned code %q", out.Code)
	}
	d := out.Routes[0].Distance
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0, fmt.Errorf("distance: osrm returned distance %v", d)
	}
	return uint64(math.Round(d)), nil
}
