package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the operator debug endpoints: manual stage jog,
// AOI nudging, zero-distance adjustment, and the offset history plot.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("lockplot", "Offset history plot (PNG)", http.HandlerFunc(s.lockPlotPNG))

	// Manual stage jog: POST functionality=fine|coarse and either pos= for
	// an absolute move or delta= for a relative one.
	debug.HandleSilentFunc("jog", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f, err := s.ctrl.Functionality(r.FormValue("functionality"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if v := r.FormValue("pos"); v != "" {
			pos, err := strconv.ParseFloat(v, 64)
			if err != nil {
				http.Error(w, "invalid pos", http.StatusBadRequest)
				return
			}
			if err := f.GoAbsolute(pos); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			io.WriteString(w, fmt.Sprintf("%s commanded to %g", f.Name(), f.Commanded()))
			return
		}
		if v := r.FormValue("delta"); v != "" {
			delta, err := strconv.ParseFloat(v, 64)
			if err != nil {
				http.Error(w, "invalid delta", http.StatusBadRequest)
				return
			}
			if err := f.GoRelative(delta); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			io.WriteString(w, fmt.Sprintf("%s commanded to %g", f.Name(), f.Commanded()))
			return
		}
		http.Error(w, "missing pos or delta", http.StatusBadRequest)
	})

	// Shift the camera AOI by dx/dy pixels.
	debug.HandleSilentFunc("aoi", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		dx, _ := strconv.Atoi(r.FormValue("dx"))
		dy, _ := strconv.Atoi(r.FormValue("dy"))
		s.loop.AdjustAOI(dx, dy)
		x, y := s.loop.AOIOffsets()
		io.WriteString(w, fmt.Sprintf("AOI offsets now %d,%d", x, y))
	})

	// Nudge the analyzer zero distance. The analyzer applies its own
	// geometry-specific increment scale.
	debug.HandleSilentFunc("zero-dist", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		inc, err := strconv.ParseFloat(r.FormValue("inc"), 64)
		if err != nil {
			http.Error(w, "invalid inc", http.StatusBadRequest)
			return
		}
		s.loop.Analyzer().AdjustZeroDist(inc)
		io.WriteString(w, fmt.Sprintf("zero distance now %g", s.loop.Analyzer().ZeroDist()))
	})
}
