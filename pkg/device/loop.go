package device

// LoopMin is the default budget at or below which Drive stops starting work
// on further devices.
const LoopMin = 16

// devloop services one device in direction dir and returns the budget left.
func (s *Stack) devloop(dev *Device, budget int, dir Direction) int {
	if p, ok := dev.Driver.(Poller); ok {
		budget = p.Poll(dev, budget)
	}

	switch dir {
	case Out:
		for budget > 0 && dev.Out.Len() > 0 {
			f := dev.Out.Dequeue()
			if f == nil {
				break
			}
			f.Dev = dev

			if dev.Eth == nil {
				if dev.Driver.Send(dev, f.Payload()) < 0 {
					dev.Stats.Failed++
				} else {
					dev.Stats.Sent++
				}
				f.Discard()
				budget--
				continue
			}

			ret := s.link.Send(f)
			switch {
			case ret == 0:
				// The link layer keeps the frame until it can be sent.
				dev.Stats.Deferred++
				budget--
			case ret < 0:
				dev.Stats.Failed++
				if !s.unreachable.SourceIsLocal(f) {
					s.log.V(1).Info("Destination unreachable, notifying source", "device", dev.name)
					s.unreachable.NotifyDestUnreachable(f)
				} else {
					s.log.V(1).Info("Destination unreachable for local source", "device", dev.name)
				}
				f.Discard()
			default:
				dev.Stats.Sent++
				f.Discard()
				budget--
			}
		}

	case In:
		for budget > 0 && dev.In.Len() > 0 {
			f := dev.In.Dequeue()
			if f == nil {
				break
			}
			f.Dev = dev
			dev.Stats.Received++

			if dev.Eth != nil {
				f.DatalinkHdr = 0
				s.link.Receive(f)
			} else {
				f.NetHdr = 0
				s.network.Receive(f)
			}
			budget--
		}
	}

	return budget
}

// Drive runs one scheduler tick for dir. Devices are serviced in registry
// order starting from where the previous tick for dir stopped, until the
// budget drops to the loop minimum or every device has been visited once. It returns
// the budget left.
func (s *Stack) Drive(budget int, dir Direction) int {
	if s.cursorIn == nil {
		s.cursorIn = s.registry.Min()
	}
	if s.cursorOut == nil {
		s.cursorOut = s.registry.Min()
	}

	next := s.cursorOut
	if dir == In {
		next = s.cursorIn
	}

	start := next
	for budget > s.loopMin && next != nil {
		budget = s.devloop(next, budget, dir)

		next = s.registry.Next(next)
		if next == nil {
			next = s.registry.Min()
		}
		if next == start {
			break
		}
	}

	if dir == In {
		s.cursorIn = next
	} else {
		s.cursorOut = next
	}
	return budget
}
