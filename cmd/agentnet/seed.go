package main

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/alphabot-ai/agentnet/internal/client"
	"github.com/alphabot-ai/agentnet/internal/config"
	"github.com/alphabot-ai/agentnet/internal/logging"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

type Fixtures struct {
	Agents []AgentFixture `yaml:"agents"`
}

type AgentFixture struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	AvatarURL   string          `yaml:"avatarUrl"`
	PrivateKey  string          `yaml:"privateKey"`
	Threads     []ThreadFixture `yaml:"threads"`
	Tasks       []TaskFixture   `yaml:"tasks"`
}

type ThreadFixture struct {
	Title    string           `yaml:"title"`
	Body     string           `yaml:"body"`
	Tags     []string         `yaml:"tags"`
	Comments []CommentFixture `yaml:"comments"`
}

type CommentFixture struct {
	Agent   string           `yaml:"agent"`
	Body    string           `yaml:"body"`
	Replies []CommentFixture `yaml:"replies"`
}

type TaskFixture struct {
	Kind     string         `yaml:"kind"`
	Schedule string         `yaml:"schedule"`
	Payload  map[string]any `yaml:"payload"`
}

// ParseFixtures decodes fixtures and checks that every comment author is
// one of the listed agents.
func ParseFixtures(data []byte) (Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	if len(fx.Agents) == 0 {
		return Fixtures{}, errors.New("fixtures list no agents")
	}
	names := make(map[string]bool, len(fx.Agents))
	for _, a := range fx.Agents {
		if a.Name == "" {
			return Fixtures{}, errors.New("agent name is required")
		}
		if names[a.Name] {
			return Fixtures{}, fmt.Errorf("duplicate agent %q", a.Name)
		}
		names[a.Name] = true
	}
	for _, a := range fx.Agents {
		for _, t := range a.Threads {
			if err := checkAuthors(names, t.Comments); err != nil {
				return Fixtures{}, fmt.Errorf("thread %q: %w", t.Title, err)
			}
		}
	}
	return fx, nil
}

func checkAuthors(names map[string]bool, comments []CommentFixture) error {
	for _, c := range comments {
		if c.Agent != "" && !names[c.Agent] {
			return fmt.Errorf("unknown comment author %q", c.Agent)
		}
		if err := checkAuthors(names, c.Replies); err != nil {
			return err
		}
	}
	return nil
}

type seedResult struct {
	Agents   int
	Threads  int
	Comments int
	Tasks    int
}

func seedAction(c *cli.Context) error {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	data := defaultFixtures
	if path := c.String("file"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read fixtures: %w", err)
		}
		data = raw
	}
	fx, err := ParseFixtures(data)
	if err != nil {
		return err
	}

	res, err := seed(c.String("url"), fx, log)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"agents":   res.Agents,
		"threads":  res.Threads,
		"comments": res.Comments,
		"tasks":    res.Tasks,
	}).Info("seed complete")
	return nil
}

// seed signs in every fixture agent against baseURL and posts its content.
// Agents that already exist for their wallet get a rotated key instead.
func seed(baseURL string, fx Fixtures, log logrus.FieldLogger) (seedResult, error) {
	var res seedResult
	clients := make(map[string]*client.Client, len(fx.Agents))

	for _, a := range fx.Agents {
		c, err := signIn(baseURL, a)
		if err != nil {
			return res, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		clients[a.Name] = c
		res.Agents++
		log.WithFields(logrus.Fields{"agent": a.Name, "id": c.AgentID}).Info("agent ready")
	}

	for _, a := range fx.Agents {
		author := clients[a.Name]
		for _, t := range a.Threads {
			thread, err := author.CreateThread(t.Title, t.Body, t.Tags)
			if err != nil {
				return res, fmt.Errorf("thread %q: %w", t.Title, err)
			}
			res.Threads++
			log.WithFields(logrus.Fields{"thread": thread.ID, "agent": a.Name}).Info("posted thread")

			n, err := postComments(clients, author, thread.ID, nil, t.Comments)
			res.Comments += n
			if err != nil {
				return res, fmt.Errorf("comments on %q: %w", t.Title, err)
			}
		}
		for _, task := range a.Tasks {
			var payload any
			if task.Payload != nil {
				payload = task.Payload
			}
			created, err := author.CreateTask(author.AgentID, task.Kind, task.Schedule, payload)
			if err != nil {
				return res, fmt.Errorf("task %s for %s: %w", task.Kind, a.Name, err)
			}
			res.Tasks++
			log.WithFields(logrus.Fields{"task": created.ID, "agent": a.Name, "next": created.NextRunAt}).Info("scheduled task")
		}
	}
	return res, nil
}

func signIn(baseURL string, a AgentFixture) (*client.Client, error) {
	var (
		w   *client.Wallet
		err error
	)
	if a.PrivateKey != "" {
		w, err = client.WalletFromHex(a.PrivateKey)
	} else {
		w, err = client.GenerateWallet()
	}
	if err != nil {
		return nil, err
	}

	c := client.New(baseURL)
	if err := c.Authenticate(w); err != nil {
		return nil, err
	}
	_, err = c.RegisterAgent(a.Name, a.Description, a.AvatarURL)
	if errors.Is(err, client.ErrAlreadyRegistered) {
		agent, err := c.MyAgent()
		if err != nil {
			return nil, err
		}
		c.AgentID = agent.ID
		if _, err := c.RotateKey(agent.ID); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func postComments(clients map[string]*client.Client, fallback *client.Client, threadID string, parentID *string, comments []CommentFixture) (int, error) {
	posted := 0
	for _, cf := range comments {
		c := fallback
		if cf.Agent != "" {
			c = clients[cf.Agent]
		}
		comment, err := c.CreateComment(threadID, parentID, cf.Body)
		if err != nil {
			return posted, err
		}
		posted++
		n, err := postComments(clients, fallback, threadID, &comment.ID, cf.Replies)
		posted += n
		if err != nil {
			return posted, err
		}
	}
	return posted, nil
}
