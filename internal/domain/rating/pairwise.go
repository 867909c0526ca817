package rating

import "math"

// gaussian is a (mu, sigma) skill estimate.
type gaussian struct {
	mu    float64
	sigma float64
}

// pairwise holds the Plackett-Luce model constants.
type pairwise struct {
	beta  float64
	tau   float64
	kappa float64
}

func defaultPairwise() pairwise {
	return pairwise{
		beta:  25.0 / 6,
		tau:   25.0 / 300,
		kappa: 0.0001,
	}
}

// update returns both posteriors after winner beats loser in a two-player
// Plackett-Luce match. Both priors are widened by tau first.
func (m pairwise) update(winner, loser gaussian) (gaussian, gaussian) {
	w2 := winner.sigma*winner.sigma + m.tau*m.tau
	l2 := loser.sigma*loser.sigma + m.tau*m.tau
	beta2 := m.beta * m.beta

	c := math.Sqrt(w2 + beta2 + l2 + beta2)
	ew := math.Exp(winner.mu / c)
	el := math.Exp(loser.mu / c)
	p := ew / (ew + el) // P(winner beats loser)

	return m.posterior(winner.mu, w2, c, 1-p, p),
		m.posterior(loser.mu, l2, c, -(1 - p), p)
}

// posterior applies a mean step omega*var/c and the shared variance shrink.
func (m pairwise) posterior(mu, variance, c, omega, p float64) gaussian {
	sigma := math.Sqrt(variance)
	eta := (sigma / c) * (variance / (c * c)) * p * (1 - p)
	return gaussian{
		mu:    mu + (variance/c)*omega,
		sigma: sigma * math.Sqrt(math.Max(1-eta, m.kappa)),
	}
}
