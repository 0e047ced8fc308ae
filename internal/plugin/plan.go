package plugin

// Plan computes the order a Sequencer would initialize the registry's
// modules in, assuming every initializer succeeds. It ignores current
// states and runs no initializers.
func Plan(registry *Registry) ([]string, error) {
	modules := registry.Modules()
	done := make(map[string]bool, len(modules))
	order := make([]string, 0, len(modules))

	for len(order) < len(modules) {
		var next *Module
		for _, m := range modules {
			if done[m.ID()] {
				continue
			}
			ready := true
			for _, d := range m.spec.Dependencies {
				if !done[d.Name] {
					ready = false
					break
				}
			}
			if ready {
				next = m
				break
			}
		}

		if next == nil {
			return order, stuckError(modules,
				func(id string) bool { return done[id] },
				func(id string) bool {
					_, ok := registry.Module(id)
					return ok
				})
		}

		done[next.ID()] = true
		order = append(order, next.ID())
	}

	return order, nil
}
