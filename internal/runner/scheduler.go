package runner

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/robfig/cron/v3"
)

// Schedule runs every configured group on a fixed interval until the
// context is canceled. Groups run one at a time: the store handle is
// owned by one run, so entries are serialized by the scheduler.
func (r *Runner) Schedule(ctx context.Context) error {
	every := r.cfg.Schedule.EveryMinutes

	groups := make([]string, 0, len(r.cfg.Groups))
	for g := range r.cfg.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	for _, group := range groups {
		group := group
		_, err := c.AddFunc(fmt.Sprintf("@every %dm", every), func() {
			if _, err := r.RunGroup(ctx, group); err != nil {
				log.Printf("scheduled run of group %s: %v", group, err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule group %s: %w", group, err)
		}
		log.Printf("scheduled group %s every %dm", group, every)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
