package actions

import (
	"context"
	"fmt"
	"strings"

	"meshgate/internal/weather"
)

const (
	replyInactive   = "Command inactive."
	replyNoNodes    = "No nodes seen."
	replyNoForecast = "Forecast unavailable."
)

func (r *Registry) seenNodes(ctx context.Context) (string, bool, error) {
	if r.deps.Presence == nil {
		return replyInactive, true, nil
	}
	recs, err := r.deps.Presence.ListSeen(ctx)
	if err != nil {
		return "", false, err
	}
	if len(recs) == 0 {
		return replyNoNodes, true, nil
	}

	n := r.deps.Bot.SeenNodesLimit
	if n > len(recs) {
		n = len(recs)
	}
	var b strings.Builder
	if n == 1 {
		b.WriteString("Most recently seen node:")
	} else {
		fmt.Fprintf(&b, "Most recently seen %d nodes:", n)
	}
	for _, rec := range recs[:n] {
		fmt.Fprintf(&b, "\n%s / %s / %s", rec.LongName, rec.ShortName, rec.ID)
	}
	return b.String(), true, nil
}

func (r *Registry) forecastReply(ctx context.Context) (string, bool, error) {
	if err := needForecast(r.deps); err != nil {
		return "", false, err
	}
	p, ok, err := r.deps.Forecast.Current(ctx)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return replyNoForecast, true, nil
	}
	return p.String(), true, nil
}

func (r *Registry) conditionsReply(ctx context.Context) (string, bool, error) {
	if err := needSensors(r.deps); err != nil {
		return "", false, err
	}
	b := r.deps.Bot
	msg, err := weather.Conditions(ctx, r.deps.Sensors, b.TempEntityID, b.HumidityEntityID, b.LocationDescription)
	if err != nil {
		return "", false, err
	}
	return msg, true, nil
}
