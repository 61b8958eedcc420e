package views

import (
	"errors"
	"html/template"
	"io"
	"io/fs"
	"strconv"
	"time"

	"github.com/nathancread/Moist-Meat/internal/modules/readings/types"
)

var dashboardTmpl *template.Template

var funcs = template.FuncMap{
	"celsius": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return formatFloat(*v) + " °C"
	},
	"percent": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return formatFloat(*v) + " %"
	},
	"rfc3339": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
}

// formatFloat prints v with one decimal.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// loadTemplatesFromFS loads dashboard templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	tmpl, err := template.New("").Funcs(funcs).ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	dashboardTmpl = tmpl
	return nil
}

// LoadTemplates loads embedded dashboard templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// DashboardData is the view model for the dashboard page.
type DashboardData struct {
	// History seeds the charts, oldest first.
	History []types.Reading
	Latest  *types.Reading
	From    time.Time
	To      time.Time
	// Cursor is the since= value the page streams from, in milliseconds.
	Cursor int64
	// Live is false for windows that end in the past; the page then skips
	// the stream.
	Live bool
	// Unavailable is set when history could not be loaded.
	Unavailable bool
	// Location labels the window and the chart axis. Nil means UTC.
	Location *time.Location
}

// Zone is the IANA name of the display location.
func (d *DashboardData) Zone() string {
	if d.Location == nil {
		return "UTC"
	}
	return d.Location.String()
}

// LocalTime formats t as RFC3339 in the display location.
func (d *DashboardData) LocalTime(t time.Time) string {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.RFC3339)
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}

// RenderLatestPartial executes only the latest-reading card into w.
func RenderLatestPartial(w io.Writer, reading *types.Reading) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "partials/latest.html", reading)
}
