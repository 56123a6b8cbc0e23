package dialog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rental-agent/internal/domain"
)

const intro = "Здравствуйте, на связи Светлана, АН Skyline\n\nРасскажите, пожалуйста, кто проживать планирует?"

func in(id string, created int64, text string) domain.Message {
	return domain.Message{ID: id, Direction: domain.DirectionIn, Kind: domain.KindText, CreatedAt: created, AuthorID: 101, Text: text}
}

func out(id string, created int64, text string) domain.Message {
	return domain.Message{ID: id, Direction: domain.DirectionOut, Kind: domain.KindText, CreatedAt: created, AuthorID: 7, Text: text}
}

func TestClassify_NoAgentMessages(t *testing.T) {
	require.Equal(t, domain.StageGreeting, Classify(nil))

	msgs := []domain.Message{in("1", 100, "Здравствуйте! Интересует ваша квартира")}
	require.Equal(t, domain.StageGreeting, Classify(msgs))
}

func TestClassify_AgentWithoutIntroduction(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Здравствуйте! Интересует ваша квартира"),
		out("2", 110, "Добрый день, квартира свободна"),
	}
	require.Equal(t, domain.StageGreeting, Classify(msgs))
}

func TestClassify_NonTextOutboundIgnored(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		{ID: "2", Direction: domain.DirectionOut, Kind: "image", CreatedAt: 110, AuthorID: 7, Text: intro},
	}
	require.Equal(t, domain.StageGreeting, Classify(msgs))
}

func TestClassify_Residents(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Здравствуйте! Интересует ваша квартира"),
		out("2", 110, intro),
	}
	require.Equal(t, domain.StageResidents, Classify(msgs))
}

func TestClassify_Residents_ReaskBeatsEvidence(t *testing.T) {
	// The agent re-asked who will live there, so the residents rule wins even
	// though the client corpus already carries residents evidence.
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		out("2", 110, intro),
		in("3", 120, "Буду жить один"),
		out("4", 130, "Уточните, пожалуйста, кто проживать планирует?"),
	}
	require.Equal(t, domain.StageResidents, Classify(msgs))
}

func TestClassify_Children(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		out("2", 110, intro),
		in("3", 120, "Буду жить с девушкой"),
		out("4", 130, "Спасибо! Дети будут?"),
	}
	require.Equal(t, domain.StageChildren, Classify(msgs))
}

func TestClassify_Pets(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		out("2", 110, intro),
		in("3", 120, "Буду жить один"),
		out("4", 130, "Дети будут?"),
		in("5", 140, "Нет"),
		out("6", 150, "Животные есть?"),
	}
	require.Equal(t, domain.StagePets, Classify(msgs))
}

func TestClassify_RentalPeriod(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		out("2", 110, intro),
		in("3", 120, "Буду жить один"),
		out("4", 130, "Животные есть?"),
		in("5", 140, "Да, кот"),
		out("6", 150, "Понятно! На какой срок планируете снимать?"),
	}
	require.Equal(t, domain.StageRentalPeriod, Classify(msgs))
}

func TestClassify_RentalPeriod_ReaskBeatsEvidence(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		out("2", 110, intro),
		in("3", 120, "Буду жить один, хотя бы на год"),
		out("4", 130, "На какой срок планируете снимать?"),
	}
	require.Equal(t, domain.StageRentalPeriod, Classify(msgs))
}

func TestClassify_Deadline(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		out("2", 110, intro),
		in("3", 120, "Буду жить один, хотя бы на год"),
		out("4", 130, "Когда планируете заселиться?"),
	}
	require.Equal(t, domain.StageDeadline, Classify(msgs))
}

func TestClassify_Contacts_PhoneSignalMissing(t *testing.T) {
	// Residents, period and date evidence all present, but no single inbound
	// message carries ten digits: the phone is still missing.
	msgs := []domain.Message{
		in("1", 1000, "Интересует квартира"),
		out("2", 1010, intro),
		in("3", 1020, "Буду жить один, на год, заеду до 20 августа"),
		out("4", 1030, "Номер телефона для связи?"),
	}
	require.Equal(t, domain.StageContacts, Classify(msgs))
	require.False(t, Evaluate(msgs))
}

func TestClassify_Complete(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		out("2", 110, intro),
		in("3", 120, "Буду жить один, мне 28 лет"),
		out("4", 130, "На какой срок планируете снимать?"),
		in("5", 140, "Хотя бы на год"),
		out("6", 150, "Когда планируете заселиться?"),
		in("7", 160, "До 20 августа"),
		out("8", 170, "Номер телефона для связи?"),
		in("9", 180, "+79161234567"),
		out("10", 190, "Спасибо! Передаю заявку собственнице."),
	}
	require.Equal(t, domain.StageComplete, Classify(msgs))
}

func TestClassify_Idempotent(t *testing.T) {
	msgs := []domain.Message{
		in("1", 100, "Интересует квартира"),
		out("2", 110, intro),
		in("3", 120, "Буду жить с девушкой"),
		out("4", 130, "Дети будут?"),
	}
	first := Classify(msgs)
	for i := 0; i < 3; i++ {
		require.Equal(t, first, Classify(msgs))
	}
}
