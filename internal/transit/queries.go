package transit

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/utils"
)

// RouteOptions returns sorted route labels, optionally restricted to one
// vehicle mode.
func (idx *Index) RouteOptions(modeFilter string) []string {
	labels := make([]string, 0, len(idx.routeLabelToID))
	for label, routeID := range idx.routeLabelToID {
		if modeFilter != "" && modeFilter != FilterAll && idx.modeForRoute(routeID) != modeFilter {
			continue
		}
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// StationOptions returns all stop labels sorted.
func (idx *Index) StationOptions() []string {
	labels := make([]string, 0, len(idx.stopLabelToID))
	for label := range idx.stopLabelToID {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// DirectionsForRoute returns the sorted set of headsigns served by a route.
func (idx *Index) DirectionsForRoute(routeLabel string) []string {
	routeID, ok := idx.routeLabelToID[routeLabel]
	if !ok {
		return nil
	}
	directions := map[string]struct{}{}
	for _, tripID := range idx.tripsByRoute[routeID] {
		directions[idx.headsign(tripID)] = struct{}{}
	}
	return sortedKeys(directions)
}

// DirectionsForStation returns the sorted set of headsigns departing a stop.
func (idx *Index) DirectionsForStation(stationLabel string) []string {
	stopID, ok := idx.stopLabelToID[stationLabel]
	if !ok {
		return nil
	}
	directions := map[string]struct{}{}
	for _, dep := range idx.departuresByStop[stopID] {
		directions[idx.headsign(dep.TripID)] = struct{}{}
	}
	return sortedKeys(directions)
}

// StopsForRoute returns stop labels in first-occurrence order along the
// route, optionally restricted to trips with a matching headsign.
func (idx *Index) StopsForRoute(routeLabel, directionLabel string) []string {
	routeID, ok := idx.routeLabelToID[routeLabel]
	if !ok {
		return nil
	}

	seqMin := map[string]int{}
	for _, tripID := range idx.tripsByRoute[routeID] {
		if !directionMatches(directionLabel, idx.headsign(tripID)) {
			continue
		}
		for _, st := range idx.stopTimesByTrip[tripID] {
			if existing, ok := seqMin[st.StopID]; !ok || st.Seq < existing {
				seqMin[st.StopID] = st.Seq
			}
		}
	}

	type stopSeq struct {
		stopID string
		seq    int
	}
	ordered := make([]stopSeq, 0, len(seqMin))
	for stopID, seq := range seqMin {
		ordered = append(ordered, stopSeq{stopID, seq})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].seq != ordered[j].seq {
			return ordered[i].seq < ordered[j].seq
		}
		return ordered[i].stopID < ordered[j].stopID
	})

	labels := make([]string, 0, len(ordered))
	for _, item := range ordered {
		labels = append(labels, idx.stopLabel(item.stopID))
	}
	return labels
}

// ToStops returns the sorted labels of stops strictly downstream of the given
// origin on any trip of the route.
func (idx *Index) ToStops(routeLabel, fromStopLabel, directionLabel string) []string {
	routeID, okRoute := idx.routeLabelToID[routeLabel]
	fromStop, okStop := idx.stopLabelToID[fromStopLabel]
	if !okRoute || !okStop {
		return nil
	}

	toStops := map[string]struct{}{}
	for _, tripID := range idx.tripsByRoute[routeID] {
		if !directionMatches(directionLabel, idx.headsign(tripID)) {
			continue
		}
		stopTimes := idx.stopTimesByTrip[tripID]
		fromEntry := findStopTime(stopTimes, fromStop)
		if fromEntry == nil {
			continue
		}
		for _, st := range stopTimes {
			if st.Seq > fromEntry.Seq {
				toStops[idx.stopLabel(st.StopID)] = struct{}{}
			}
		}
	}
	return sortedKeys(toStops)
}

// UpcomingODDO returns upcoming departures for one route/direction between an
// exact origin and destination stop, evaluated across the three candidate
// service days, deduplicated and sorted by realtime departure.
func (idx *Index) UpcomingODDO(now time.Time, routeLabel, directionLabel, fromStopLabel, toStopLabel string, delays map[string]int, limit int) []Departure {
	routeID, okRoute := idx.routeLabelToID[routeLabel]
	fromStop, okFrom := idx.stopLabelToID[fromStopLabel]
	toStop, okTo := idx.stopLabelToID[toStopLabel]
	if !okRoute || !okFrom || !okTo {
		return nil
	}

	activeServices := idx.activeServicesWindow(now)

	var results []Departure
	for _, tripID := range idx.tripsByRoute[routeID] {
		headsign := idx.headsign(tripID)
		if !directionMatches(directionLabel, headsign) {
			continue
		}
		trip := idx.trips[tripID]

		stopTimes := idx.stopTimesByTrip[tripID]
		fromEntry := findStopTime(stopTimes, fromStop)
		if fromEntry == nil {
			continue
		}
		toEntry := findStopTimeAfter(stopTimes, toStop, fromEntry.Seq)
		if toEntry == nil {
			continue
		}

		for serviceDay, services := range activeServices {
			if _, ok := services[trip.ServiceID]; !ok {
				continue
			}

			depPlanned := timeForServiceDay(serviceDay, fromEntry.DepartureSecs)
			arrPlanned := timeForServiceDay(serviceDay, toEntry.ArrivalSecs)
			delaySeconds := delays[tripID]
			depRT := depPlanned.Add(time.Duration(delaySeconds) * time.Second)
			arrRT := arrPlanned.Add(time.Duration(delaySeconds) * time.Second)
			if depRT.Before(now) {
				continue
			}

			results = append(results, Departure{
				TripID:           tripID,
				Route:            routeLabel,
				Direction:        headsign,
				FromStop:         fromStopLabel,
				ToStop:           toStopLabel,
				DeparturePlanned: depPlanned,
				DepartureRT:      depRT,
				ArrivalPlanned:   arrPlanned,
				ArrivalRT:        arrRT,
				DelayMinutes:     delayMinutes(delaySeconds),
			})
		}
	}

	results = dedupDepartures(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// ODDepartureBoard windows UpcomingODDO to the next windowMinutes. A delay
// can push a departure past the window; when that leaves the windowed list
// empty the soonest upcoming departure is reported instead.
func (idx *Index) ODDepartureBoard(now time.Time, routeLabel, directionLabel, fromStopLabel, toStopLabel string, windowMinutes int, delays map[string]int, limit int) ODBoard {
	upcoming := idx.UpcomingODDO(now, routeLabel, directionLabel, fromStopLabel, toStopLabel, delays, limit)

	board := ODBoard{Departures: []Departure{}}
	for _, dep := range upcoming {
		if int(dep.DepartureRT.Sub(now)/time.Minute) <= windowMinutes {
			board.Departures = append(board.Departures, dep)
		}
	}
	if len(board.Departures) == 0 && len(upcoming) > 0 {
		board.OutsideWindow = true
		board.NextMinutes = int(upcoming[0].DepartureRT.Sub(now) / time.Minute)
	}
	return board
}

// StationDirectionBoard returns the departures from one stop within the time
// window, filtered by exact headsign and route label, sorted by realtime
// departure.
func (idx *Index) StationDirectionBoard(now time.Time, stationLabel, directionLabel, boardRouteLabel string, windowMinutes int, delays map[string]int) []BoardEntry {
	stopID, ok := idx.stopLabelToID[stationLabel]
	if !ok {
		return nil
	}

	windowEnd := now.Add(time.Duration(windowMinutes) * time.Minute)
	activeServices := idx.activeServicesWindow(now)

	var entries []BoardEntry
	for _, dep := range idx.departuresByStop[stopID] {
		trip, ok := idx.trips[dep.TripID]
		if !ok || trip.ServiceID == "" {
			continue
		}

		headsign := idx.headsign(dep.TripID)
		if !directionMatches(directionLabel, headsign) {
			continue
		}

		for serviceDay, services := range activeServices {
			if _, ok := services[trip.ServiceID]; !ok {
				continue
			}

			depPlanned := timeForServiceDay(serviceDay, dep.DepartureSecs)
			delaySeconds := delays[dep.TripID]
			depRT := depPlanned.Add(time.Duration(delaySeconds) * time.Second)

			if depRT.Before(now) || depRT.After(windowEnd) {
				continue
			}

			routeLabel, ok := idx.routes[trip.RouteID]
			if !ok {
				routeLabel = trip.RouteID
			}
			if boardRouteLabel != "" && boardRouteLabel != FilterAll && boardRouteLabel != routeLabel {
				continue
			}

			entries = append(entries, BoardEntry{
				TripID:       dep.TripID,
				Route:        routeLabel,
				Direction:    headsign,
				Mode:         idx.modeForRoute(trip.RouteID),
				Planned:      depPlanned,
				RT:           depRT,
				DelayMinutes: delayMinutes(delaySeconds),
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].RT.Before(entries[j].RT) })
	return entries
}

// UpcomingBetweenStopNames returns upcoming departures between two stop-name
// queries across all routes. Each query resolves permissively: exact label
// match, explicit "Name [id]" suffix, and case-insensitive substring match on
// stop names, unioned.
func (idx *Index) UpcomingBetweenStopNames(now time.Time, fromQuery, toQuery string, windowMinutes int, delays map[string]int, modeFilter string, limit int) []Departure {
	if strings.TrimSpace(fromQuery) == "" || strings.TrimSpace(toQuery) == "" {
		return nil
	}

	fromIDs := idx.stopIDsForQuery(fromQuery)
	toIDs := idx.stopIDsForQuery(toQuery)
	if len(fromIDs) == 0 || len(toIDs) == 0 {
		return nil
	}

	windowEnd := now.Add(time.Duration(windowMinutes) * time.Minute)
	activeServices := idx.activeServicesWindow(now)

	var results []Departure
	for tripID, trip := range idx.trips {
		routeMode := idx.modeForRoute(trip.RouteID)
		if modeFilter != "" && modeFilter != FilterAll && routeMode != modeFilter {
			continue
		}

		stopTimes := idx.stopTimesByTrip[tripID]
		if len(stopTimes) == 0 {
			continue
		}

		fromEntry := findStopTimeIn(stopTimes, fromIDs)
		if fromEntry == nil {
			continue
		}
		toEntry := findStopTimeInAfter(stopTimes, toIDs, fromEntry.Seq)
		if toEntry == nil {
			continue
		}

		for serviceDay, services := range activeServices {
			if _, ok := services[trip.ServiceID]; !ok {
				continue
			}

			depPlanned := timeForServiceDay(serviceDay, fromEntry.DepartureSecs)
			arrPlanned := timeForServiceDay(serviceDay, toEntry.ArrivalSecs)
			delaySeconds := delays[tripID]
			depRT := depPlanned.Add(time.Duration(delaySeconds) * time.Second)
			arrRT := arrPlanned.Add(time.Duration(delaySeconds) * time.Second)

			if depRT.Before(now) || depRT.After(windowEnd) {
				continue
			}

			routeLabel, ok := idx.routes[trip.RouteID]
			if !ok {
				routeLabel = trip.RouteID
			}
			headsign := trip.Headsign
			if headsign == "" {
				headsign = UnknownDirection
			}
			results = append(results, Departure{
				TripID:           tripID,
				Route:            routeLabel,
				Mode:             routeMode,
				Direction:        headsign,
				FromStop:         idx.stopLabel(fromEntry.StopID),
				ToStop:           idx.stopLabel(toEntry.StopID),
				DeparturePlanned: depPlanned,
				DepartureRT:      depRT,
				ArrivalPlanned:   arrPlanned,
				ArrivalRT:        arrRT,
				DelayMinutes:     delayMinutes(delaySeconds),
			})
		}
	}

	results = dedupDepartures(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// stopIDsForQuery resolves a user query string into candidate stop ids.
func (idx *Index) stopIDsForQuery(query string) map[string]struct{} {
	raw := strings.TrimSpace(query)
	out := map[string]struct{}{}
	if raw == "" {
		return out
	}

	if exact, ok := idx.stopLabelToID[raw]; ok {
		out[exact] = struct{}{}
	}

	// Optional label suffix with explicit stop id, e.g. "Utrina [183_2]".
	if strings.Contains(raw, "[") && strings.HasSuffix(raw, "]") {
		open := strings.LastIndex(raw, "[")
		maybeID := strings.TrimSpace(raw[open+1 : len(raw)-1])
		if _, ok := idx.stops[maybeID]; ok {
			out[maybeID] = struct{}{}
		}
	}

	ql := strings.ToLower(raw)
	for stopID, name := range idx.stops {
		if strings.Contains(strings.ToLower(name), ql) {
			out[stopID] = struct{}{}
		}
	}
	return out
}

// NearbyBoard returns the closest stops within the radius together with their
// full boards. Stops with no departures in the window are dropped.
func (idx *Index) NearbyBoard(now time.Time, userLat, userLon float64, radiusMeters, windowMinutes int, delays map[string]int, maxStops int) []NearbyStop {
	type candidate struct {
		stopID   string
		distance float64
	}
	var candidates []candidate
	for stopID, c := range idx.stopCoords {
		distance := utils.Haversine(userLat, userLon, c.Lat, c.Lon)
		if distance <= float64(radiusMeters) {
			candidates = append(candidates, candidate{stopID, distance})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})

	if maxStops < 1 {
		maxStops = 1
	}
	if len(candidates) > maxStops {
		candidates = candidates[:maxStops]
	}

	var out []NearbyStop
	for _, cand := range candidates {
		stopLabel := idx.stopLabel(cand.stopID)
		departures := idx.StationDirectionBoard(now, stopLabel, FilterAll, FilterAll, windowMinutes, delays)
		if len(departures) == 0 {
			continue
		}

		tramCount, busCount := 0, 0
		for _, d := range departures {
			switch d.Mode {
			case ModeTram:
				tramCount++
			case ModeBus:
				busCount++
			}
		}

		row := NearbyStop{
			Stop:           stopLabel,
			DistanceMeters: math.Round(cand.distance*10) / 10,
			TramDepartures: tramCount,
			BusDepartures:  busCount,
			Departures:     departures,
		}
		if c, ok := idx.stopCoords[cand.stopID]; ok {
			row.MapURL = utils.MapURL(c.Lat, c.Lon)
		}
		out = append(out, row)
	}
	return out
}

// StationsMatchingQueries returns station labels matching any query
// substring, first-match-wins across queries, capped at maxStops.
func (idx *Index) StationsMatchingQueries(queries []string, maxStops int) []string {
	var clean []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q != "" {
			clean = append(clean, strings.ToLower(q))
		}
	}
	if len(clean) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	var matched []string
	stations := idx.StationOptions()
	for _, query := range clean {
		for _, station := range stations {
			if !strings.Contains(strings.ToLower(station), query) {
				continue
			}
			if _, ok := seen[station]; ok {
				continue
			}
			seen[station] = struct{}{}
			matched = append(matched, station)
			if len(matched) >= maxStops {
				return matched
			}
		}
	}
	return matched
}

// BoardsForStationQueries runs an unfiltered station board for every station
// matched by the queries, dropping stations with empty boards.
func (idx *Index) BoardsForStationQueries(now time.Time, queries []string, windowMinutes int, delays map[string]int, maxStops int) []StationBoard {
	stations := idx.StationsMatchingQueries(queries, maxStops)
	var out []StationBoard
	for _, station := range stations {
		departures := idx.StationDirectionBoard(now, station, FilterAll, FilterAll, windowMinutes, delays)
		if len(departures) > 0 {
			out = append(out, StationBoard{Stop: station, Departures: departures})
		}
	}
	return out
}

func directionMatches(filter, headsign string) bool {
	return filter == "" || filter == FilterAll || filter == headsign
}

func findStopTime(stopTimes []StopTime, stopID string) *StopTime {
	for i := range stopTimes {
		if stopTimes[i].StopID == stopID {
			return &stopTimes[i]
		}
	}
	return nil
}

func findStopTimeAfter(stopTimes []StopTime, stopID string, afterSeq int) *StopTime {
	for i := range stopTimes {
		if stopTimes[i].StopID == stopID && stopTimes[i].Seq > afterSeq {
			return &stopTimes[i]
		}
	}
	return nil
}

func findStopTimeIn(stopTimes []StopTime, stopIDs map[string]struct{}) *StopTime {
	for i := range stopTimes {
		if _, ok := stopIDs[stopTimes[i].StopID]; ok {
			return &stopTimes[i]
		}
	}
	return nil
}

func findStopTimeInAfter(stopTimes []StopTime, stopIDs map[string]struct{}, afterSeq int) *StopTime {
	for i := range stopTimes {
		if stopTimes[i].Seq <= afterSeq {
			continue
		}
		if _, ok := stopIDs[stopTimes[i].StopID]; ok {
			return &stopTimes[i]
		}
	}
	return nil
}

// dedupDepartures sorts ascending by realtime departure and removes rows
// repeated across overlapping service days, keyed by (trip id, realtime
// departure).
func dedupDepartures(results []Departure) []Departure {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DepartureRT.Before(results[j].DepartureRT)
	})

	type key struct {
		tripID string
		rt     int64
	}
	seen := map[key]struct{}{}
	out := results[:0]
	for _, item := range results {
		k := key{item.TripID, item.DepartureRT.UnixNano()}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out
}

func delayMinutes(delaySeconds int) float64 {
	return math.Round(float64(delaySeconds)/60*10) / 10
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
